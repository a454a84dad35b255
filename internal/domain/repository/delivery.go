package repository

import (
	"context"
	"time"
)

// DeliveryRepository is the ledger of published reminder occurrences.
type DeliveryRepository interface {
	// IsDelivered reports whether the (noteID, reminderAt) occurrence was published.
	IsDelivered(ctx context.Context, noteID string, reminderAt time.Time) (bool, error)
	// MarkDelivered records the occurrence. Marking twice is not an error.
	MarkDelivered(ctx context.Context, noteID string, reminderAt, deliveredAt time.Time) error
	// DeleteDeliveredBefore drops ledger rows delivered before threshold.
	DeleteDeliveredBefore(ctx context.Context, threshold time.Time) (int64, error)
}

// WatermarkRepository persists the last fully scanned instant per scanner.
type WatermarkRepository interface {
	// Load returns the stored watermark and whether one exists.
	Load(ctx context.Context, name string) (time.Time, bool, error)
	// Save upserts the watermark.
	Save(ctx context.Context, name string, scannedAt time.Time) error
}
