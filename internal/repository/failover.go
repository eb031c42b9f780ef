package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// recoveryInterval is how long after a primary failure we wait before
// probing it again.
const recoveryInterval = time.Minute

// FailoverStateRepository serves from the primary repository and falls back
// to the secondary when the primary errors, probing the primary again after
// a cool-down.
type FailoverStateRepository struct {
	primary  StateRepository
	fallback StateRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

// NewFailoverStateRepository builds the failover wrapper.
func NewFailoverStateRepository(primary, fallback StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the primary should be tried for this call,
// flipping into a recovery probe once the cool-down has passed.
func (f *FailoverStateRepository) usePrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastCheck) >= recoveryInterval {
		f.lastCheck = time.Now()
		return true
	}
	return false
}

func (f *FailoverStateRepository) markDown(err error) {
	if f.isDown.CompareAndSwap(false, true) {
		f.logger.Warn().Err(err).Msg("primary state repository down, using fallback")
	}
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

func (f *FailoverStateRepository) markUp() {
	if f.isDown.CompareAndSwap(true, false) {
		f.logger.Info().Msg("primary state repository recovered")
	}
}

func (f *FailoverStateRepository) GetState(ctx context.Context, requesterID int64) (*DialogState, error) {
	if f.usePrimary() {
		state, err := f.primary.GetState(ctx, requesterID)
		if err == nil {
			f.markUp()
			return state, nil
		}
		f.markDown(err)
	}
	return f.fallback.GetState(ctx, requesterID)
}

func (f *FailoverStateRepository) SetState(ctx context.Context, state *DialogState) error {
	if f.usePrimary() {
		err := f.primary.SetState(ctx, state)
		if err == nil {
			f.markUp()
			// Mirror to the fallback so a later failover sees it.
			_ = f.fallback.SetState(ctx, state)
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.SetState(ctx, state)
}

func (f *FailoverStateRepository) ClearState(ctx context.Context, requesterID int64) error {
	var primaryErr error
	if f.usePrimary() {
		primaryErr = f.primary.ClearState(ctx, requesterID)
		if primaryErr == nil {
			f.markUp()
		} else {
			f.markDown(primaryErr)
		}
	}
	// Always clear the fallback copy.
	if err := f.fallback.ClearState(ctx, requesterID); err != nil {
		return err
	}
	return primaryErr
}
