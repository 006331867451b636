package thread

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a thread id is unknown.
	ErrNotFound = errors.New("thread not found")

	// ErrThreadClosed is returned when a hop append targets a closed thread.
	ErrThreadClosed = errors.New("thread is closed")

	// ErrAlreadyClosed is returned when closing a thread twice.
	ErrAlreadyClosed = errors.New("thread already closed")

	// ErrThreadExists is returned by stores on duplicate insert.
	ErrThreadExists = errors.New("thread already exists")
)

// ValidationError reports a missing or malformed required field. The caller
// must fix the request; validation failures are never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IntegrityError reports a broken hash chain. It is always surfaced to the
// caller and must never be auto-repaired or swallowed.
type IntegrityError struct {
	ThreadID   string
	AtSequence int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in thread %s at sequence %d", e.ThreadID, e.AtSequence)
}
