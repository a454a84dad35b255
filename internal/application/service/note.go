package service

import (
	"context"
	"io"

	"calendar/internal/application/dto"
)

// NoteService defines the interface for note CRUD, querying and export.
type NoteService interface {
	// CreateNote assigns an ID, stamps CreatedAt and stores the note with
	// ReminderAt converted to UTC.
	CreateNote(ctx context.Context, req dto.CreateNoteRequest) (dto.NoteResponse, error)
	// GetNote retrieves a note by its ID.
	GetNote(ctx context.Context, id string) (dto.NoteResponse, error)
	// ListNotes returns notes matching the query.
	ListNotes(ctx context.Context, q dto.NoteQuery) ([]dto.NoteResponse, error)
	// UpdateNote replaces the editable fields of note id. req.ID must equal id.
	UpdateNote(ctx context.Context, id string, req dto.UpdateNoteRequest) error
	// DeleteNote deletes a note. Deleting a missing note is not an error.
	DeleteNote(ctx context.Context, id string) error
	// ExportCSV writes notes matching the query as CSV.
	ExportCSV(ctx context.Context, w io.Writer, q dto.NoteQuery) error
}
