package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
)

// CreateField inserts a new field
func (s *Store) CreateField(ctx context.Context, field *models.Field) error {
	if field.OwnerID == "" {
		return fmt.Errorf("field owner is required")
	}
	if field.Name == "" {
		return fmt.Errorf("field name is required")
	}
	if err := s.db.WithContext(ctx).Create(field).Error; err != nil {
		return &PersistenceError{Op: "create field", Err: err}
	}
	return nil
}

// GetField loads a field visible to ownerID. An empty ownerID skips the ownership check.
func (s *Store) GetField(ctx context.Context, ownerID string, id uint) (*models.Field, error) {
	var field models.Field
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	if err := q.First(&field).Error; err != nil {
		return nil, notFound(err)
	}
	return &field, nil
}

// ListFields returns the owner's fields ordered by name
func (s *Store) ListFields(ctx context.Context, ownerID string) ([]models.Field, error) {
	var fields []models.Field
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("name, id").
		Find(&fields).Error
	return fields, err
}

// UpdateField saves the editable attributes of a field. The row must belong
// to field.OwnerID; otherwise ErrNotFound is returned.
func (s *Store) UpdateField(ctx context.Context, field *models.Field) error {
	if field.Name == "" {
		return fmt.Errorf("field name is required")
	}
	res := s.db.WithContext(ctx).Model(field).
		Where("owner_id = ?", field.OwnerID).
		Select("name", "location", "area_mu", "planting_date").
		Updates(field)
	if res.Error != nil {
		return &PersistenceError{Op: "update field", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteField removes a field together with its photo groups, their jobs and results.
func (s *Store) DeleteField(ctx context.Context, ownerID string, id uint) error {
	if _, err := s.GetField(ctx, ownerID, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groups := tx.Model(&models.PhotoGroup{}).Select("id").Where("field_id = ?", id)

		if err := tx.Where("photo_group_id IN (?)", groups).Delete(&models.AnalysisResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("photo_group_id IN (?)", groups).Delete(&models.Job{}).Error; err != nil {
			return err
		}
		if err := tx.Where("field_id = ?", id).Delete(&models.PhotoGroup{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Field{}, id).Error
	})
	if err != nil {
		return &PersistenceError{Op: "delete field", Err: err}
	}

	s.log.Info("field deleted", logging.Fields{"field_id": id})
	return nil
}
