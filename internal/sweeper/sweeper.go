// Package sweeper expires pending bookings whose window has elapsed.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"casitas/internal/booking"
	"casitas/internal/clock"
	"casitas/internal/metrics"
	"casitas/internal/models"
)

// Config holds sweeper settings.
type Config struct {
	// Interval is how often the sweep runs.
	Interval time.Duration
	// PendingWindow is how long a booking may stay pending before expiry,
	// measured from creation.
	PendingWindow time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Minute,
		PendingWindow: 15 * time.Minute,
	}
}

// PendingSource lists pending bookings past a creation cutoff.
type PendingSource interface {
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
}

// Expirer drives one booking to expired through the validated state machine.
type Expirer interface {
	Expire(ctx context.Context, bookingID string) (*models.Booking, error)
}

// Sweeper periodically reclaims stale pending bookings.
type Sweeper struct {
	config  Config
	source  PendingSource
	expirer Expirer
	clock   clock.Clock
	logger  *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a sweeper. Zero config fields fall back to defaults.
func New(config Config, source PendingSource, expirer Expirer, clk clock.Clock, logger *zerolog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.PendingWindow <= 0 {
		config.PendingWindow = DefaultConfig().PendingWindow
	}
	return &Sweeper{
		config:  config,
		source:  source,
		expirer: expirer,
		clock:   clk,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called. It blocks; run it in its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("pending_window", s.config.PendingWindow).
		Msg("expiration sweeper started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiration sweeper stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("expiration sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop stops the loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// Sweep runs a single pass: every pending booking created at or before
// now - PendingWindow is driven to expired. A failure on one record does not
// stop the rest; counts are logged at the end. Overlapping runs are safe
// because the expired transition is idempotent.
func (s *Sweeper) Sweep(ctx context.Context) (expired, failed int) {
	metrics.IncSweepRun()
	now := s.clock.Now()
	cutoff := now.Add(-s.config.PendingWindow)

	stale, err := s.source.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep query failed")
		return 0, 0
	}
	if len(stale) == 0 {
		return 0, 0
	}

	for i := range stale {
		select {
		case <-ctx.Done():
			s.logger.Info().
				Int("expired", expired).
				Int("remaining", len(stale)-expired-failed).
				Msg("sweep interrupted")
			return expired, failed
		default:
		}

		b := &stale[i]
		if _, err := s.expirer.Expire(ctx, b.ID); err != nil {
			// A record that went terminal between query and expire is not a
			// fault; everything else is isolated and counted.
			if errors.Is(err, booking.ErrInvalidTransition) {
				continue
			}
			failed++
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("expire failed")
			continue
		}
		expired++
	}

	metrics.AddBookingsExpired(expired)
	s.logger.Info().
		Int("expired", expired).
		Int("failed", failed).
		Time("cutoff", cutoff).
		Msg("sweep completed")
	return expired, failed
}
