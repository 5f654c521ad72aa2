package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a template does not exist or is not
	// owned by the caller.
	ErrNotFound = errors.New("template not found")

	// ErrAlreadyEnded is returned when cancelling a template that has
	// already ended. It is an idempotency conflict, not a failure.
	ErrAlreadyEnded = errors.New("template already ended")
)

// ValidationError reports a rejected field at create or update time.
// It is surfaced to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientStorageError wraps an I/O failure during a sweep. It is never
// surfaced to a user; the occurrence stays due and is retried on a later
// sweep.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *TransientStorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransient reports whether err is a TransientStorageError.
func IsTransient(err error) bool {
	var te *TransientStorageError
	return errors.As(err, &te)
}
