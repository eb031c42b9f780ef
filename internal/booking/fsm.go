// Package booking owns the reservation lifecycle state machine.
package booking

import (
	"errors"
	"fmt"
	"time"

	"casitas/internal/models"
)

// ErrInvalidTransition is returned when a requested status change is not
// allowed from the booking's current status.
var ErrInvalidTransition = errors.New("invalid booking transition")

// transitions maps each status to the statuses reachable from it. Terminal
// statuses have no outgoing edges.
var transitions = map[string][]string{
	models.StatusPending: {
		models.StatusConfirmed,
		models.StatusRejected,
		models.StatusExpired,
	},
	models.StatusConfirmed: {},
	models.StatusRejected:  {},
	models.StatusExpired:   {},
}

// CanTransition checks whether from -> to is an allowed transition.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply drives the booking to the target status, updating UpdatedAt to now.
//
// Re-applying the booking's current terminal status is a no-op success, so
// overlapping sweeps and repeated operator verdicts stay safe. Any other
// transition out of a terminal state, or an unknown status, fails with
// ErrInvalidTransition and leaves the record untouched.
func Apply(b *models.Booking, to string, now time.Time) error {
	if b.Status == to && models.IsTerminal(to) {
		return nil
	}
	if !CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}
