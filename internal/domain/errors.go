package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the request carries no usable caller identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means the requested id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition means a progress operation is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict means the record changed underneath the caller.
	ErrConflict = errors.New("conflict")
	// ErrUpstream means a third-party dependency failed or returned unusable content.
	ErrUpstream = errors.New("upstream failure")
)

// ValidationError reports the first input field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError returns a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
