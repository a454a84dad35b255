package handler

import (
	"errors"
	"net/http"

	appErrors "calendar/internal/pkg/errors"

	"github.com/labstack/echo/v4"
)

// errorResponse is the JSON body returned for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, appErrors.ErrNoteNotFound), errors.Is(err, appErrors.ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, appErrors.ErrInvalidNote), errors.Is(err, appErrors.ErrIDMismatch), errors.Is(err, appErrors.ErrInvalidQuery):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps application errors to status codes. Internal details are
// not exposed for 5xx responses.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = appErrors.ErrInternalServer.Error()
	}
	return c.JSON(status, errorResponse{Error: msg})
}
