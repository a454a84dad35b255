package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"calendar/internal/application/dto"
	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/google/uuid"
)

// MaxTop caps how many notes a single list or export returns.
const MaxTop = 100

var csvHeader = []string{"Id", "Title", "Text", "CreatedAt", "ReminderAt"}

type noteService struct {
	noteRepo repository.NoteRepository
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

// NewNoteService creates a new instance of NoteService implementation.
func NewNoteService(noteRepo repository.NoteRepository, log logger.Logger) NoteService {
	return &noteService{
		noteRepo: noteRepo,
		log:      log,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

func validateNote(title string, reminderAt time.Time) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", appErrors.ErrInvalidNote)
	}
	if reminderAt.IsZero() {
		return fmt.Errorf("%w: reminderAt is required", appErrors.ErrInvalidNote)
	}
	return nil
}

// CreateNote stores a new note.
func (s *noteService) CreateNote(ctx context.Context, req dto.CreateNoteRequest) (dto.NoteResponse, error) {
	if err := validateNote(req.Title, req.ReminderAt); err != nil {
		return dto.NoteResponse{}, err
	}
	note := &entity.Note{
		ID:         s.newID(),
		Title:      req.Title,
		Text:       req.Text,
		CreatedAt:  s.now().UTC(),
		ReminderAt: req.ReminderAt.UTC(),
	}
	if err := s.noteRepo.Create(ctx, note); err != nil {
		s.log.Error(fmt.Sprintf("Failed to create note %q", req.Title), err)
		return dto.NoteResponse{}, fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	s.log.Info(fmt.Sprintf("Created note %s with reminder at %s", note.ID, note.ReminderAt.Format(time.RFC3339)))
	return dto.ToNoteResponse(note), nil
}

// GetNote retrieves a note by its ID.
func (s *noteService) GetNote(ctx context.Context, id string) (dto.NoteResponse, error) {
	note, err := s.noteRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, appErrors.ErrNoteNotFound) {
			return dto.NoteResponse{}, appErrors.ErrNoteNotFound
		}
		s.log.Error(fmt.Sprintf("Failed to get note %s", id), err)
		return dto.NoteResponse{}, fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	return dto.ToNoteResponse(note), nil
}

// ToFilter validates a NoteQuery and converts it to a repository filter.
func ToFilter(q dto.NoteQuery) (repository.NoteFilter, error) {
	f := repository.NoteFilter{
		Title:          q.Title,
		TitleContains:  q.TitleContains,
		CreatedAfter:   q.CreatedAfter,
		CreatedBefore:  q.CreatedBefore,
		ReminderAfter:  q.ReminderAfter,
		ReminderBefore: q.ReminderBefore,
		Limit:          MaxTop,
	}
	switch {
	case q.Top < 0 || q.Top > MaxTop:
		return f, fmt.Errorf("%w: top must be between 1 and %d", appErrors.ErrInvalidQuery, MaxTop)
	case q.Top > 0:
		f.Limit = q.Top
	}

	if q.OrderBy != "" {
		parts := strings.Fields(q.OrderBy)
		if len(parts) == 0 || len(parts) > 2 {
			return f, fmt.Errorf("%w: orderBy %q", appErrors.ErrInvalidQuery, q.OrderBy)
		}
		switch parts[0] {
		case "createdAt":
			f.OrderBy = repository.SortByCreatedAt
		case "reminderAt":
			f.OrderBy = repository.SortByReminderAt
		case "title":
			f.OrderBy = repository.SortByTitle
		default:
			return f, fmt.Errorf("%w: cannot order by %q", appErrors.ErrInvalidQuery, parts[0])
		}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				f.Descending = true
			default:
				return f, fmt.Errorf("%w: sort direction %q", appErrors.ErrInvalidQuery, parts[1])
			}
		}
	}
	return f, nil
}

func (s *noteService) find(ctx context.Context, q dto.NoteQuery) ([]*entity.Note, error) {
	filter, err := ToFilter(q)
	if err != nil {
		return nil, err
	}
	notes, err := s.noteRepo.Find(ctx, filter)
	if err != nil {
		if errors.Is(err, appErrors.ErrInvalidQuery) {
			return nil, err
		}
		s.log.Error("Failed to query notes", err)
		return nil, fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	return notes, nil
}

// ListNotes returns notes matching the query.
func (s *noteService) ListNotes(ctx context.Context, q dto.NoteQuery) ([]dto.NoteResponse, error) {
	notes, err := s.find(ctx, q)
	if err != nil {
		return nil, err
	}
	return dto.ToNoteResponseList(notes), nil
}

// UpdateNote replaces title, text and reminder of an existing note.
func (s *noteService) UpdateNote(ctx context.Context, id string, req dto.UpdateNoteRequest) error {
	if req.ID != id {
		return appErrors.ErrIDMismatch
	}
	if err := validateNote(req.Title, req.ReminderAt); err != nil {
		return err
	}
	note := &entity.Note{
		ID:         id,
		Title:      req.Title,
		Text:       req.Text,
		ReminderAt: req.ReminderAt.UTC(),
	}
	if err := s.noteRepo.Update(ctx, note); err != nil {
		if errors.Is(err, appErrors.ErrNoteNotFound) {
			return appErrors.ErrNoteNotFound
		}
		s.log.Error(fmt.Sprintf("Failed to update note %s", id), err)
		return fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	s.log.Info(fmt.Sprintf("Updated note %s, reminder at %s", id, note.ReminderAt.Format(time.RFC3339)))
	return nil
}

// DeleteNote deletes a note by its ID.
func (s *noteService) DeleteNote(ctx context.Context, id string) error {
	if err := s.noteRepo.Delete(ctx, id); err != nil {
		s.log.Error(fmt.Sprintf("Failed to delete note %s", id), err)
		return fmt.Errorf("%w: %v", appErrors.ErrDatabaseOperation, err)
	}
	s.log.Info(fmt.Sprintf("Deleted note %s", id))
	return nil
}

// ExportCSV writes the header row followed by one row per matching note.
func (s *noteService) ExportCSV(ctx context.Context, w io.Writer, q dto.NoteQuery) error {
	notes, err := s.find(ctx, q)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, n := range notes {
		text := ""
		if n.Text != nil {
			text = *n.Text
		}
		row := []string{
			n.ID,
			n.Title,
			text,
			n.CreatedAt.UTC().Format(time.RFC3339),
			n.ReminderAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for note %s: %w", n.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	s.log.Debug(fmt.Sprintf("Exported %d notes as CSV", len(notes)))
	return nil
}
