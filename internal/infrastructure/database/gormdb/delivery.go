package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a new instance of DeliveryRepository.
func NewDeliveryRepository(db *gorm.DB) repository.DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) IsDelivered(ctx context.Context, noteID string, reminderAt time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.Delivery{}).
		Where("note_id = ? AND reminder_at = ?", noteID, reminderAt.UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to look up delivery of note %s: %w", noteID, err)
	}
	return count > 0, nil
}

func (r *deliveryRepository) MarkDelivered(ctx context.Context, noteID string, reminderAt, deliveredAt time.Time) error {
	row := &entity.Delivery{
		NoteID:      noteID,
		ReminderAt:  reminderAt.UTC(),
		DeliveredAt: deliveredAt.UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to record delivery of note %s: %w", noteID, err)
	}
	return nil
}

func (r *deliveryRepository) DeleteDeliveredBefore(ctx context.Context, threshold time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("delivered_at < ?", threshold.UTC()).
		Delete(&entity.Delivery{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune deliveries older than %v: %w", threshold, res.Error)
	}
	return res.RowsAffected, nil
}

type watermarkRepository struct {
	db *gorm.DB
}

// NewWatermarkRepository creates a new instance of WatermarkRepository.
func NewWatermarkRepository(db *gorm.DB) repository.WatermarkRepository {
	return &watermarkRepository{db: db}
}

func (r *watermarkRepository) Load(ctx context.Context, name string) (time.Time, bool, error) {
	var wm entity.Watermark
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&wm).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to load watermark %s: %w", name, err)
	}
	return wm.ScannedAt.UTC(), true, nil
}

func (r *watermarkRepository) Save(ctx context.Context, name string, scannedAt time.Time) error {
	wm := &entity.Watermark{Name: name, ScannedAt: scannedAt.UTC()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"scanned_at"}),
		}).
		Create(wm).Error
	if err != nil {
		return fmt.Errorf("failed to save watermark %s: %w", name, err)
	}
	return nil
}
