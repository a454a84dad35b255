package service

import (
	"context"
	"fmt"
	"time"

	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	appErrors "calendar/internal/pkg/errors"
)

type dueNoteSelector struct {
	noteRepo repository.NoteRepository
	window   time.Duration
}

// NewDueNoteSelector creates a selector over noteRepo. A non-positive window
// falls back to DefaultDueWindow.
func NewDueNoteSelector(noteRepo repository.NoteRepository, window time.Duration) DueNoteSelector {
	if window <= 0 {
		window = DefaultDueWindow
	}
	return &dueNoteSelector{noteRepo: noteRepo, window: window}
}

func (s *dueNoteSelector) Window() time.Duration {
	return s.window
}

// DueWindow returns the closed interval [now-window, now] in UTC.
func DueWindow(now time.Time, window time.Duration) (start, end time.Time) {
	end = now.UTC()
	return end.Add(-window), end
}

// SelectDue returns the notes due at now. It has no side effects.
func (s *dueNoteSelector) SelectDue(ctx context.Context, now time.Time) ([]*entity.Note, error) {
	start, end := DueWindow(now, s.window)
	return s.SelectRange(ctx, start, end)
}

// SelectRange returns the notes with a reminder in [start, end].
func (s *dueNoteSelector) SelectRange(ctx context.Context, start, end time.Time) ([]*entity.Note, error) {
	notes, err := s.noteRepo.GetNotesDue(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	if notes == nil {
		notes = []*entity.Note{}
	}
	return notes, nil
}
