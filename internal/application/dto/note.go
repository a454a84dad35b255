package dto

import (
	"calendar/internal/domain/entity"
	"time"
)

// NoteResponse is the DTO for sending note information to the client.
type NoteResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Text       *string   `json:"text,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ReminderAt time.Time `json:"reminderAt"`
}

// ToNoteResponse converts an entity.Note to a NoteResponse DTO.
func ToNoteResponse(n *entity.Note) NoteResponse {
	return NoteResponse{
		ID:         n.ID,
		Title:      n.Title,
		Text:       n.Text,
		CreatedAt:  n.CreatedAt.UTC(),
		ReminderAt: n.ReminderAt.UTC(),
	}
}

// ToNoteResponseList converts a slice of entity.Note to NoteResponse DTOs.
func ToNoteResponseList(notes []*entity.Note) []NoteResponse {
	list := make([]NoteResponse, len(notes))
	for i, n := range notes {
		list[i] = ToNoteResponse(n)
	}
	return list
}

// CreateNoteRequest is the DTO for creating a note. ReminderAt may carry any
// offset; it is stored in UTC.
type CreateNoteRequest struct {
	Title      string    `json:"title"`
	Text       *string   `json:"text,omitempty"`
	ReminderAt time.Time `json:"reminderAt"`
}

// UpdateNoteRequest is the DTO for replacing a note's editable fields.
type UpdateNoteRequest struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Text       *string   `json:"text,omitempty"`
	ReminderAt time.Time `json:"reminderAt"`
}

// NoteQuery is the restricted filter/sort surface for listing and export.
type NoteQuery struct {
	Title          string
	TitleContains  string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	ReminderAfter  time.Time
	ReminderBefore time.Time
	OrderBy        string // "createdAt", "reminderAt desc", ...
	Top            int
}
