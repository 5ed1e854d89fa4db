package cloud

import (
	"errors"
	"fmt"
)

// Error is a classified remote call failure. Transient failures are safe
// to retry; permanent ones are not.
type Error struct {
	Op        string
	Resource  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("%s %s: %s failure: %v", e.Op, e.Resource, class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(op, resource string, err error) *Error {
	return &Error{Op: op, Resource: resource, Transient: true, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(op, resource string, err error) *Error {
	return &Error{Op: op, Resource: resource, Transient: false, Err: err}
}

// IsTransient reports whether err carries a transient classification.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return false
}
