package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"calendar/internal/application/dto"
	"calendar/internal/application/service"
	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/labstack/echo/v4"
)

// NoteHandler serves the notes REST API.
type NoteHandler struct {
	noteService service.NoteService
	log         logger.Logger
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(noteService service.NoteService, log logger.Logger) *NoteHandler {
	return &NoteHandler{noteService: noteService, log: log}
}

// Create handles POST /api/notes.
func (h *NoteHandler) Create(c echo.Context) error {
	var req dto.CreateNoteRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", appErrors.ErrInvalidNote, err))
	}
	note, err := h.noteService.CreateNote(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	c.Response().Header().Set(echo.HeaderLocation, "/api/notes/"+note.ID)
	return c.JSON(http.StatusCreated, note)
}

// List handles GET /api/notes.
func (h *NoteHandler) List(c echo.Context) error {
	q, err := parseNoteQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	notes, err := h.noteService.ListNotes(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, notes)
}

// Get handles GET /api/notes/:id.
func (h *NoteHandler) Get(c echo.Context) error {
	note, err := h.noteService.GetNote(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, note)
}

// Update handles PUT /api/notes/:id.
func (h *NoteHandler) Update(c echo.Context) error {
	var req dto.UpdateNoteRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, fmt.Errorf("%w: %v", appErrors.ErrInvalidNote, err))
	}
	if err := h.noteService.UpdateNote(c.Request().Context(), c.Param("id"), req); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /api/notes/:id.
func (h *NoteHandler) Delete(c echo.Context) error {
	if err := h.noteService.DeleteNote(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Export handles GET /api/notes/export.
func (h *NoteHandler) Export(c echo.Context) error {
	q, err := parseNoteQuery(c)
	if err != nil {
		return writeError(c, err)
	}
	// Rejected here because the status line is committed before rows stream.
	if _, err := service.ToFilter(q); err != nil {
		return writeError(c, err)
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition, `attachment; filename="notes.csv"`)
	res.WriteHeader(http.StatusOK)
	if err := h.noteService.ExportCSV(c.Request().Context(), res, q); err != nil {
		h.log.Error("CSV export failed after headers were sent", err)
	}
	return nil
}

func parseNoteQuery(c echo.Context) (dto.NoteQuery, error) {
	q := dto.NoteQuery{
		Title:         c.QueryParam("title"),
		TitleContains: c.QueryParam("q"),
		OrderBy:       c.QueryParam("orderBy"),
	}
	times := []struct {
		param string
		dst   *time.Time
	}{
		{"createdAfter", &q.CreatedAfter},
		{"createdBefore", &q.CreatedBefore},
		{"reminderAfter", &q.ReminderAfter},
		{"reminderBefore", &q.ReminderBefore},
	}
	for _, tp := range times {
		raw := c.QueryParam(tp.param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: %s must be RFC3339", appErrors.ErrInvalidQuery, tp.param)
		}
		*tp.dst = t.UTC()
	}
	if raw := c.QueryParam("top"); raw != "" {
		top, err := strconv.Atoi(raw)
		if err != nil || top < 1 {
			return q, fmt.Errorf("%w: top must be a positive integer", appErrors.ErrInvalidQuery)
		}
		q.Top = top
	}
	return q, nil
}
