package models

import "errors"

// AppError is a structured application error carried to the HTTP boundary.
// Field naming mirrors the taxonomy in spec.md §7.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrConflict = func(msg string) *AppError {
		return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
	}
	ErrInternal = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
	ErrRouting = func(msg string) *AppError {
		return &AppError{Code: "ROUTING", Message: msg, Status: 502}
	}
	ErrTimeout = func(msg string) *AppError {
		return &AppError{Code: "TIMEOUT", Message: msg, Status: 504}
	}
)

// Sentinel errors used internally between packages (not surfaced directly
// to HTTP callers — handlers translate them to AppError).
var (
	ErrUnitNotFound     = errors.New("service unit not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTimedOut         = errors.New("operation timed out")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrNotSupported     = errors.New("not supported")
	ErrBusy             = errors.New("busy")
)
