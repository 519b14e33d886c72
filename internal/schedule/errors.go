package schedule

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Errors returned by the engine are marked with one of these and
// can be classified with errors.Is.
var (
	ErrValidation       = errors.New("schedule: validation failed")
	ErrAlreadyExists    = errors.New("schedule: already exists")
	ErrNotFound         = errors.New("schedule: not found")
	ErrStore            = errors.New("schedule: store failure")
	ErrConcurrencyGuard = errors.New("schedule: job already running")
)

func validationErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// storeError wraps a persistence failure and marks it as ErrStore.
func storeError(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrStore)
}

// Kind returns the error kind err was marked with, or nil if it carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrAlreadyExists, ErrNotFound, ErrConcurrencyGuard, ErrStore} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
