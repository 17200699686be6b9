package calendar

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrDuplicateID = errors.New("duplicate event id")
	ErrPastEvent   = errors.New("event is in the past")
)

// Error is the typed failure returned by the calendar core.
// Message is safe to show to the principal verbatim.
type Error struct {
	Kind    error
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func invalid(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Message: msg}
}

// NotFound reports a missing user or event.
func NotFound(resource, id string) *Error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// DuplicateID reports an event id collision inside one user's list.
func DuplicateID(id EventID) *Error {
	return &Error{Kind: ErrDuplicateID, Field: "id", Message: fmt.Sprintf("event %s already exists", id)}
}

// PastEvent reports an event whose instant has already elapsed.
func PastEvent() *Error {
	return &Error{Kind: ErrPastEvent, Message: "Event must be in the future!"}
}

// Invalid builds a validation error for callers outside this package
// (e.g. command parsing) so all user-facing failures share one shape.
func Invalid(field, msg string) *Error { return invalid(field, msg) }
