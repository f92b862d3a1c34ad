// Package apperr defines the error categories shared by the ordering engine.
//
// Domain packages declare their own sentinel errors and wrap one of these
// categories, so transports can map a failure to a status code and callers can
// decide whether a retry is safe without knowing every concrete error.
package apperr

import "errors"

var (
	// ErrNotFound marks a missing cart, line item, order or catalog entry.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed input: bad quantities, negative prices,
	// inconsistent ingredient snapshots.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a request that collides with existing state, such as an
	// idempotency token replayed with a different payload or an illegal status
	// transition.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks storage or network failures. Only these are eligible
	// for a caller-side retry.
	ErrTransient = errors.New("transient failure")
)

// New returns a sentinel error that belongs to category.
func New(category error, msg string) error {
	return &categorized{category: category, msg: msg}
}

type categorized struct {
	category error
	msg      string
}

func (e *categorized) Error() string { return e.msg }
func (e *categorized) Unwrap() error { return e.category }

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Category returns the category err belongs to, or nil when it is
// uncategorized.
func Category(err error) error {
	for _, c := range []error{ErrNotFound, ErrValidation, ErrConflict, ErrTransient} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
