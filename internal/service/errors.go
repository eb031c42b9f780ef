package service

import (
	"errors"
	"fmt"

	"casitas/internal/booking"
)

var (
	// ErrSlotUnavailable means the slot is occupied or the reserve lost the
	// race. A normal negative outcome, not a system fault.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrNotFound means the booking or property id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable means the store could not answer. Callers may
	// retry with backoff; it is never coerced into a booking outcome.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidTransition re-exports the state machine violation so callers
	// match against one package.
	ErrInvalidTransition = booking.ErrInvalidTransition
)

// ValidationError reports bad caller input (unknown shift, past date). Never
// retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a caller input error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
