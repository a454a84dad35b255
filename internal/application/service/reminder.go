package service

import (
	"context"
	"time"

	"calendar/internal/domain/entity"
)

// DefaultDueWindow is the trailing window a reminder stays due for.
const DefaultDueWindow = time.Minute

// DueNoteSelector picks the notes whose reminder is due at a given instant.
type DueNoteSelector interface {
	// SelectDue returns the notes with ReminderAt in [now-window, now].
	SelectDue(ctx context.Context, now time.Time) ([]*entity.Note, error)
	// SelectRange returns the notes with ReminderAt in [start, end].
	SelectRange(ctx context.Context, start, end time.Time) ([]*entity.Note, error)
	// Window returns the trailing window length.
	Window() time.Duration
}

// NotificationChannel delivers a payload to every current subscriber of a
// topic. Publishing to a topic without subscribers is a no-op.
type NotificationChannel interface {
	Publish(ctx context.Context, topic string, payload any) error
}
