package repository

import (
	"context"
	"time"

	"calendar/internal/domain/entity"
)

// SortField is a column notes can be ordered by.
type SortField string

const (
	SortByCreatedAt  SortField = "created_at"
	SortByReminderAt SortField = "reminder_at"
	SortByTitle      SortField = "title"
)

// NoteFilter is the restricted query surface over notes. Zero values mean
// "no constraint".
type NoteFilter struct {
	Title          string // exact match
	TitleContains  string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	ReminderAfter  time.Time
	ReminderBefore time.Time
	OrderBy        SortField
	Descending     bool
	Limit          int
}

// NoteRepository defines the interface for note data operations.
type NoteRepository interface {
	// FindByID retrieves a note by its ID.
	FindByID(ctx context.Context, id string) (*entity.Note, error)
	// Find retrieves notes matching the filter.
	Find(ctx context.Context, filter NoteFilter) ([]*entity.Note, error)
	// Create inserts a new note.
	Create(ctx context.Context, note *entity.Note) error
	// Update replaces an existing note.
	Update(ctx context.Context, note *entity.Note) error
	// Delete deletes a note by its ID. Deleting a missing note is not an error.
	Delete(ctx context.Context, id string) error
	// GetNotesDue returns notes whose reminder_at lies in the closed interval
	// [windowStart, windowEnd]. Both bounds are treated as UTC.
	GetNotesDue(ctx context.Context, windowStart, windowEnd time.Time) ([]*entity.Note, error)
}
