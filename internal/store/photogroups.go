package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
)

// ErrStatusConflict is returned when a conditional status update matched no row
var ErrStatusConflict = errors.New("photo group status changed concurrently")

// CreatePhotoGroup inserts a photo group in PENDING state. All four image paths are required.
func (s *Store) CreatePhotoGroup(ctx context.Context, group *models.PhotoGroup) error {
	for name, path := range group.ImagePaths() {
		if path == "" {
			return fmt.Errorf("photo group is missing the %s image", name)
		}
	}
	if time.Time(group.CaptureDate).IsZero() {
		return fmt.Errorf("photo group capture date is required")
	}
	group.Status = models.AnalysisPending

	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		return &PersistenceError{Op: "create photo group", Err: err}
	}
	return nil
}

// GetPhotoGroup loads a photo group with its field
func (s *Store) GetPhotoGroup(ctx context.Context, id uint) (*models.PhotoGroup, error) {
	var group models.PhotoGroup
	if err := s.db.WithContext(ctx).Preload("Field").First(&group, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &group, nil
}

// ListPhotoGroupsByField returns a field's photo groups, newest capture first
func (s *Store) ListPhotoGroupsByField(ctx context.Context, fieldID uint) ([]models.PhotoGroup, error) {
	var groups []models.PhotoGroup
	err := s.db.WithContext(ctx).
		Preload("Result").
		Where("field_id = ?", fieldID).
		Order("capture_date DESC, id DESC").
		Find(&groups).Error
	return groups, err
}

// SetStatus moves a photo group to status, enforcing the lifecycle transitions.
// The write is conditional on the status read, so a concurrent change yields ErrStatusConflict.
func (s *Store) SetStatus(ctx context.Context, id uint, status models.AnalysisStatus) error {
	var group models.PhotoGroup
	if err := s.db.WithContext(ctx).Select("id", "status").First(&group, id).Error; err != nil {
		return notFound(err)
	}
	if group.Status == status {
		return nil
	}
	if err := models.ValidateAnalysisTransition(group.Status, status); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.PhotoGroup{}).
		Where("id = ? AND status = ?", id, group.Status).
		Update("status", status)
	if res.Error != nil {
		return &PersistenceError{Op: "set status", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}

	s.log.Debug("photo group status changed", logging.Fields{
		"photo_group_id": id,
		"from":           group.Status,
		"to":             status,
	})
	return nil
}

// TryBeginProcessing atomically moves a photo group into PROCESSING.
// It fails when another run holds the group, unless that run's last update is older than staleBefore.
// Returns false without error when the group is busy.
func (s *Store) TryBeginProcessing(ctx context.Context, id uint, staleBefore time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.PhotoGroup{}).
		Where("id = ?", id).
		Where("status <> ? OR updated_at < ?", models.AnalysisProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":     models.AnalysisProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, &PersistenceError{Op: "begin processing", Err: res.Error}
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PhotoGroup{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// DeletePhotoGroup removes a photo group with its jobs and result.
// The image files are left to the caller.
func (s *Store) DeletePhotoGroup(ctx context.Context, id uint) error {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("photo_group_id = ?", id).Delete(&models.AnalysisResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("photo_group_id = ?", id).Delete(&models.Job{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.PhotoGroup{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return &PersistenceError{Op: "delete photo group", Err: err}
	}
	return nil
}

// MarkFailed moves a group to FAILED from any non-terminal state
func (s *Store) MarkFailed(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.PhotoGroup{}).
		Where("id = ? AND status IN ?", id, []models.AnalysisStatus{models.AnalysisPending, models.AnalysisProcessing}).
		Update("status", models.AnalysisFailed)
	if res.Error != nil {
		return &PersistenceError{Op: "mark failed", Err: res.Error}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}
