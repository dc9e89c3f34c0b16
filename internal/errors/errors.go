// Package errors defines the typed application errors shared by the
// repositories, services and transport handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an AppError.
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeUnknownProject ErrorCode = "UNKNOWN_PROJECT"
	ErrCodeConflict       ErrorCode = "CONFLICT"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// AppError is an error with a stable code that transport layers map to
// client-facing status codes.
type AppError struct {
	Code    ErrorCode         `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps err with a code and message.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports that resource with id does not exist.
func NotFound(resource, id string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// UnknownProject reports that a project is not known to the project registry.
// It is distinct from a project with no configured threshold bands.
func UnknownProject(projectID string) *AppError {
	return New(ErrCodeUnknownProject, fmt.Sprintf("unknown project %q", projectID)).
		WithDetail("project_id", projectID)
}

// InvalidInput reports a validation failure on a single field.
func InvalidInput(field, message string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("invalid %s: %s", field, message)).
		WithDetail("field", field)
}

// Conflict reports that the request conflicts with the current state.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// Code returns the code of the first AppError in err's chain, or
// ErrCodeInternal when there is none.
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return Code(err) == code
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeUnknownProject:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Internal errors never
// expose the wrapped cause.
func Message(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Code != ErrCodeInternal {
		return appErr.Message
	}
	return "internal error"
}

// As is errors.As from the standard library, re-exported so callers that
// import this package under the name errors keep access to it.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
