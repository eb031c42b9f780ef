// Package service implements the reservation coordinator: the single entry
// point for creating bookings and changing their status.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"casitas/internal/booking"
	"casitas/internal/clock"
	"casitas/internal/events"
	"casitas/internal/metrics"
	"casitas/internal/models"
	"casitas/internal/storage"
)

// BookingStore is the storage contract the coordinator depends on.
type BookingStore interface {
	CreateBookingSlot(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, version int64, status string, updatedAt time.Time) error
	CountActiveForSlot(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (int, error)
	ListRequesterBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error)
}

// RateSource supplies the precomputed price for a property shift, when one
// is configured.
type RateSource interface {
	GetRate(ctx context.Context, propertyID int64, shift models.Shift) (float64, error)
}

// EventPublisher receives booking lifecycle events.
type EventPublisher interface {
	Publish(event events.Event)
}

// ReservationService coordinates availability checks, atomic slot claims,
// and validated status transitions.
type ReservationService struct {
	store  BookingStore
	rates  RateSource // optional
	bus    EventPublisher
	clock  clock.Clock
	logger *zerolog.Logger
	locks  *slotLocks
}

// NewReservationService builds the coordinator. rates may be nil when no
// pricing source is wired.
func NewReservationService(store BookingStore, rates RateSource, bus EventPublisher, clk clock.Clock, logger *zerolog.Logger) *ReservationService {
	return &ReservationService{
		store:  store,
		rates:  rates,
		bus:    bus,
		clock:  clk,
		logger: logger,
		locks:  newSlotLocks(),
	}
}

// Reserve validates the request and atomically claims the slot. Concurrent
// calls for the same (property, date, shift) tuple produce exactly one
// pending booking; the rest get ErrSlotUnavailable.
func (s *ReservationService) Reserve(ctx context.Context, propertyID, requesterID int64, date time.Time, shift models.Shift) (*models.Booking, error) {
	if !shift.Valid() {
		return nil, &ValidationError{Field: "shift", Reason: fmt.Sprintf("unknown value %q", shift)}
	}
	now := s.clock.Now()
	day := models.DateOnly(date)
	if day.Before(models.DateOnly(now)) {
		return nil, &ValidationError{Field: "date", Reason: "cannot book in the past"}
	}

	b := &models.Booking{
		ID:          models.NewBookingID(),
		PropertyID:  propertyID,
		RequesterID: requesterID,
		Date:        day,
		Shift:       shift,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	s.enrichPrice(ctx, b)

	// Serialize check+insert per slot; the store's conditional insert is the
	// second belt for writers that bypass this coordinator.
	lock := s.locks.get(b.SlotKey())
	lock.Lock()
	err := s.store.CreateBookingSlot(ctx, b)
	lock.Unlock()

	if err != nil {
		if errors.Is(err, storage.ErrSlotTaken) {
			metrics.IncSlotConflict()
			return nil, ErrSlotUnavailable
		}
		s.logger.Error().Err(err).
			Int64("property_id", propertyID).
			Str("slot", b.SlotKey()).
			Msg("reserve failed on storage")
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	metrics.IncReservationCreated(b.Status)
	s.publish(events.TypeBookingCreated, b)
	s.logger.Info().
		Str("booking_id", b.ID).
		Int64("property_id", propertyID).
		Int64("requester_id", requesterID).
		Str("slot", b.SlotKey()).
		Msg("booking created")
	return b, nil
}

// enrichPrice attaches the configured rate when available. A missing rate
// never blocks the reservation.
func (s *ReservationService) enrichPrice(ctx context.Context, b *models.Booking) {
	if s.rates == nil {
		return
	}
	amount, err := s.rates.GetRate(ctx, b.PropertyID, b.Shift)
	if err != nil {
		if !errors.Is(err, storage.ErrNoRate) {
			s.logger.Warn().Err(err).Int64("property_id", b.PropertyID).Msg("rate lookup failed")
		}
		return
	}
	b.Price = &amount
}

// SetVerdict applies an operator decision (confirmed or rejected) to a
// pending booking. Repeating a verdict on a booking already in that terminal
// state succeeds without modification.
func (s *ReservationService) SetVerdict(ctx context.Context, bookingID, verdict string) (*models.Booking, error) {
	if verdict != models.StatusConfirmed && verdict != models.StatusRejected {
		return nil, &ValidationError{Field: "verdict", Reason: fmt.Sprintf("unknown value %q", verdict)}
	}
	b, err := s.transition(ctx, bookingID, verdict)
	if err != nil {
		return nil, err
	}
	metrics.IncVerdict(verdict)
	if verdict == models.StatusConfirmed {
		s.publish(events.TypeBookingConfirmed, b)
	} else {
		s.publish(events.TypeBookingRejected, b)
	}
	return b, nil
}

// Expire drives a pending booking to expired. Only the sweeper calls this.
func (s *ReservationService) Expire(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.transition(ctx, bookingID, models.StatusExpired)
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeBookingExpired, b)
	return b, nil
}

// transition loads the booking, applies the state machine, and persists the
// result under the record's version. A lost version race is retried once
// against the fresh record so idempotent re-application still succeeds.
func (s *ReservationService) transition(ctx context.Context, bookingID, to string) (*models.Booking, error) {
	for attempt := 0; ; attempt++ {
		b, err := s.store.GetBooking(ctx, bookingID)
		if err != nil {
			if errors.Is(err, storage.ErrNoBooking) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}

		prev := b.Status
		now := s.clock.Now()
		if err := booking.Apply(b, to, now); err != nil {
			return nil, err
		}
		if b.Status == prev {
			// Idempotent terminal no-op; nothing to persist.
			return b, nil
		}

		err = s.store.UpdateBookingStatus(ctx, b.ID, b.Version, b.Status, b.UpdatedAt)
		if err == nil {
			b.Version++
			s.logger.Info().
				Str("booking_id", b.ID).
				Str("from", prev).
				Str("to", b.Status).
				Msg("booking transition")
			return b, nil
		}
		if errors.Is(err, storage.ErrConcurrentModification) && attempt == 0 {
			continue
		}
		if errors.Is(err, storage.ErrNoBooking) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

// Lookup returns the booking by id.
func (s *ReservationService) Lookup(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, storage.ErrNoBooking) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return b, nil
}

// UserBookings returns the requester's bookings, most recent first. limit <=
// 0 returns all.
func (s *ReservationService) UserBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error) {
	list, err := s.store.ListRequesterBookings(ctx, requesterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return list, nil
}

// IsAvailable reports whether the slot has no non-terminal booking. A
// storage fault propagates; it is never reported as available.
func (s *ReservationService) IsAvailable(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (bool, error) {
	if !shift.Valid() {
		return false, &ValidationError{Field: "shift", Reason: fmt.Sprintf("unknown value %q", shift)}
	}
	count, err := s.store.CountActiveForSlot(ctx, propertyID, date, shift)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return count == 0, nil
}

func (s *ReservationService) publish(eventType string, b *models.Booking) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: eventType, Booking: *b, CreatedAt: s.clock.Now()})
}
