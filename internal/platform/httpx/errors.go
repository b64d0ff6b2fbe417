// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/fieldcrew/identity/internal/shared"
)

// StatusFor maps domain error kinds to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponder writes domain errors as RFC7807 problems. Internal errors are
// logged with full detail and answered with a generic message when Production is set.
type ErrorResponder struct {
	Logger     *slog.Logger
	Production bool
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func (e ErrorResponder) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		if e.Logger != nil {
			e.Logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		detail := err.Error()
		if e.Production {
			detail = "unexpected error"
		}
		Problem(w, status, http.StatusText(status), detail)
		return
	}
	Problem(w, status, http.StatusText(status), err.Error())
}

// RespondError writes err without logging and without leaking internal detail.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = "unexpected error"
	}
	Problem(w, status, http.StatusText(status), detail)
}
