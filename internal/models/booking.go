package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Shift designates which part of the day a booking occupies.
type Shift string

const (
	ShiftDay       Shift = "day"
	ShiftNight     Shift = "night"
	ShiftFullDay   Shift = "full_day"
	ShiftFullNight Shift = "full_night"
)

// Shifts lists all valid shift values in presentation order.
var Shifts = []Shift{ShiftDay, ShiftNight, ShiftFullDay, ShiftFullNight}

// ParseShift validates a raw shift value.
func ParseShift(s string) (Shift, error) {
	switch Shift(s) {
	case ShiftDay, ShiftNight, ShiftFullDay, ShiftFullNight:
		return Shift(s), nil
	}
	return "", fmt.Errorf("unknown shift %q", s)
}

// Valid reports whether the shift is one of the known values.
func (s Shift) Valid() bool {
	_, err := ParseShift(string(s))
	return err == nil
}

// Booking statuses. Pending and confirmed occupy a slot; rejected and
// expired are history only.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusExpired   = "expired"
)

// Booking represents a lodging-unit reservation record.
type Booking struct {
	ID          string     `json:"id"`
	PropertyID  int64      `json:"property_id"`
	RequesterID int64      `json:"requester_id"`
	Date        time.Time  `json:"date"`  // day granularity, UTC midnight
	Shift       Shift      `json:"shift"`
	Status      string     `json:"status"`
	Price       *float64   `json:"price,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Version     int64      `json:"version"`
}

// NewBookingID returns a time-ordered unique booking identifier.
func NewBookingID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to V4.
		return uuid.NewString()
	}
	return id.String()
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusConfirmed, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OccupiesSlot reports whether the booking blocks its (property, date,
// shift) tuple. Only pending and confirmed bookings do.
func (b *Booking) OccupiesSlot() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// SlotKey returns a stable key for the booking's slot tuple.
func (b *Booking) SlotKey() string {
	return SlotKey(b.PropertyID, b.Date, b.Shift)
}

// SlotKey builds the canonical key for a (property, date, shift) tuple.
func SlotKey(propertyID int64, date time.Time, shift Shift) string {
	return fmt.Sprintf("%d:%s:%s", propertyID, date.Format("2006-01-02"), shift)
}

// DateOnly truncates a timestamp to UTC midnight.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PendingDeadline returns the instant at which a pending booking becomes
// eligible for expiry. Measured from creation, not last update.
func (b *Booking) PendingDeadline(window time.Duration) time.Time {
	return b.CreatedAt.Add(window)
}

// ExpiredBy reports whether the booking's pending window has elapsed at now.
func (b *Booking) ExpiredBy(now time.Time, window time.Duration) bool {
	if b.Status != StatusPending {
		return false
	}
	return !now.Before(b.PendingDeadline(window))
}
