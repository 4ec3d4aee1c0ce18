package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
)

// SaveAnalysisResult inserts the result for its photo group, replacing any earlier one
func (s *Store) SaveAnalysisResult(ctx context.Context, result *models.AnalysisResult) error {
	if err := upsertResult(s.db.WithContext(ctx), result); err != nil {
		return &PersistenceError{Op: "save analysis result", Err: err}
	}
	return nil
}

func upsertResult(tx *gorm.DB, result *models.AnalysisResult) error {
	result.ID = 0
	if result.AnalyzedAt.IsZero() {
		result.AnalyzedAt = time.Now()
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "photo_group_id"}},
		UpdateAll: true,
	}).Create(result).Error
}

// CompleteWithResult upserts the result and marks its photo group COMPLETED in one transaction.
// The group must still be PROCESSING; otherwise nothing is written and ErrStatusConflict is returned.
func (s *Store) CompleteWithResult(ctx context.Context, result *models.AnalysisResult) error {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if err := upsertResult(tx, result); err != nil {
			return &PersistenceError{Op: "save analysis result", Err: err}
		}
		res := tx.Model(&models.PhotoGroup{}).
			Where("id = ? AND status = ?", result.PhotoGroupID, models.AnalysisProcessing).
			Update("status", models.AnalysisCompleted)
		if res.Error != nil {
			return &PersistenceError{Op: "complete photo group", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return ErrStatusConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("analysis result stored", logging.Fields{"photo_group_id": result.PhotoGroupID})
	return nil
}

// GetAnalysisResult loads the result for a photo group
func (s *Store) GetAnalysisResult(ctx context.Context, photoGroupID uint) (*models.AnalysisResult, error) {
	var result models.AnalysisResult
	if err := s.db.WithContext(ctx).Where("photo_group_id = ?", photoGroupID).First(&result).Error; err != nil {
		return nil, notFound(err)
	}
	return &result, nil
}

// ResultFilter narrows ListResults. Zero values do not filter.
type ResultFilter struct {
	OwnerID  string
	FieldIDs []uint
	From     time.Time
	To       time.Time
}

// ResultRow is an analysis result with the photo group and field it belongs to
type ResultRow struct {
	Field  models.Field
	Group  models.PhotoGroup
	Result models.AnalysisResult
}

// ListResults returns stored results ordered by capture date
func (s *Store) ListResults(ctx context.Context, f ResultFilter) ([]ResultRow, error) {
	q := s.db.WithContext(ctx).Model(&models.PhotoGroup{}).InnerJoins("Result")
	if f.OwnerID != "" {
		q = q.InnerJoins("Field", s.db.Where(&models.Field{OwnerID: f.OwnerID}))
	} else {
		q = q.InnerJoins("Field")
	}
	if len(f.FieldIDs) > 0 {
		q = q.Where("photo_groups.field_id IN ?", f.FieldIDs)
	}
	if !f.From.IsZero() {
		q = q.Where("photo_groups.capture_date >= ?", datatypes.Date(f.From))
	}
	if !f.To.IsZero() {
		q = q.Where("photo_groups.capture_date <= ?", datatypes.Date(f.To))
	}

	var groups []models.PhotoGroup
	if err := q.Order("photo_groups.capture_date, photo_groups.id").Find(&groups).Error; err != nil {
		return nil, err
	}

	rows := make([]ResultRow, 0, len(groups))
	for _, g := range groups {
		if g.Result == nil || g.Field == nil {
			continue
		}
		row := ResultRow{Field: *g.Field, Result: *g.Result}
		g.Field, g.Result = nil, nil
		row.Group = g
		rows = append(rows, row)
	}
	return rows, nil
}
