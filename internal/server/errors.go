package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ctrshell/internal/localstore"
	"ctrshell/internal/shell"
)

// ErrorType classifies API errors in the JSON body.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeConflict       ErrorType = "conflict_error"
	ErrorTypeStorageFull    ErrorType = "storage_full_error"
	ErrorTypeInternal       ErrorType = "internal_error"
)

// Error is returned by handlers to select the HTTP status and error type.
type Error struct {
	Type       ErrorType
	Message    string
	StatusCode int
	// Err is logged but never sent to clients.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatusCode returns StatusCode, or the default for Type.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeStorageFull:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) toJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

func newInvalidRequestError(message string, err error) *Error {
	return &Error{Type: ErrorTypeInvalidRequest, Message: message, Err: err}
}

func newNotFoundError(message string) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: message}
}

// classify maps domain errors onto API errors.
func classify(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, localstore.ErrNotFound):
		return &Error{Type: ErrorTypeNotFound, Message: "not found", Err: err}
	case errors.Is(err, shell.ErrQuotaExceeded):
		return &Error{Type: ErrorTypeStorageFull, Message: "storage quota exceeded", Err: err}
	case errors.Is(err, shell.ErrInvalidTransition):
		return &Error{Type: ErrorTypeConflict, Message: err.Error(), Err: err}
	default:
		return &Error{Type: ErrorTypeInternal, Message: "an unexpected error occurred", Err: err}
	}
}

// handleError writes err as a JSON error response.
func (h *Handler) handleError(c echo.Context, err error) error {
	apiErr := classify(err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		log := h.log
		if log == nil {
			log = slog.Default()
		}
		log.Error("api request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(apiErr.HTTPStatusCode(), apiErr.toJSON())
}
