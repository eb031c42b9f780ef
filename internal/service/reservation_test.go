package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"casitas/internal/clock"
	"casitas/internal/models"
	"casitas/internal/storage"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateBookingSlot(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockStore) UpdateBookingStatus(ctx context.Context, id string, version int64, status string, updatedAt time.Time) error {
	return m.Called(ctx, id, version, status, updatedAt).Error(0)
}
func (m *mockStore) CountActiveForSlot(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (int, error) {
	args := m.Called(ctx, propertyID, date, shift)
	return args.Int(0), args.Error(1)
}
func (m *mockStore) ListRequesterBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error) {
	args := m.Called(ctx, requesterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

type mockRates struct {
	mock.Mock
}

func (m *mockRates) GetRate(ctx context.Context, propertyID int64, shift models.Shift) (float64, error) {
	args := m.Called(ctx, propertyID, shift)
	return args.Get(0).(float64), args.Error(1)
}

func newService(store BookingStore, rates RateSource, clk clock.Clock) *ReservationService {
	logger := zerolog.New(io.Discard)
	return NewReservationService(store, rates, nil, clk, &logger)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReserve_Validation(t *testing.T) {
	store := new(mockStore)
	now := day(2025, 6, 1).Add(10 * time.Hour)
	svc := newService(store, nil, clock.Fixed{T: now})
	ctx := context.Background()

	t.Run("unknown shift", func(t *testing.T) {
		_, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 2), models.Shift("morning"))
		assert.True(t, IsValidation(err))
	})

	t.Run("past date", func(t *testing.T) {
		_, err := svc.Reserve(ctx, 7, 3, day(2025, 5, 31), models.ShiftDay)
		assert.True(t, IsValidation(err))
	})

	t.Run("today is allowed", func(t *testing.T) {
		store.On("CreateBookingSlot", ctx, mock.Anything).Return(nil).Once()
		b, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 1), models.ShiftDay)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, b.Status)
		store.AssertExpectations(t)
	})
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	now := day(2025, 5, 20).Add(9 * time.Hour)

	t.Run("success sets identity and timestamps", func(t *testing.T) {
		store := new(mockStore)
		rates := new(mockRates)
		svc := newService(store, rates, clock.Fixed{T: now})

		rates.On("GetRate", ctx, int64(7), models.ShiftDay).Return(2500.0, nil).Once()
		store.On("CreateBookingSlot", ctx, mock.MatchedBy(func(b *models.Booking) bool {
			return b.PropertyID == 7 && b.RequesterID == 3 &&
				b.Date.Equal(day(2025, 6, 1)) && b.Status == models.StatusPending
		})).Return(nil).Once()

		b, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 1), models.ShiftDay)
		require.NoError(t, err)
		assert.NotEmpty(t, b.ID)
		assert.Equal(t, now, b.CreatedAt)
		assert.Equal(t, int64(1), b.Version)
		require.NotNil(t, b.Price)
		assert.Equal(t, 2500.0, *b.Price)
		store.AssertExpectations(t)
		rates.AssertExpectations(t)
	})

	t.Run("missing rate does not block", func(t *testing.T) {
		store := new(mockStore)
		rates := new(mockRates)
		svc := newService(store, rates, clock.Fixed{T: now})

		rates.On("GetRate", ctx, int64(7), models.ShiftDay).Return(0.0, storage.ErrNoRate).Once()
		store.On("CreateBookingSlot", ctx, mock.Anything).Return(nil).Once()

		b, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 1), models.ShiftDay)
		require.NoError(t, err)
		assert.Nil(t, b.Price)
	})

	t.Run("occupied slot", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		store.On("CreateBookingSlot", ctx, mock.Anything).Return(storage.ErrSlotTaken).Once()

		_, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 1), models.ShiftDay)
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("storage fault is not a booking outcome", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		store.On("CreateBookingSlot", ctx, mock.Anything).Return(errors.New("disk on fire")).Once()

		_, err := svc.Reserve(ctx, 7, 3, day(2025, 6, 1), models.ShiftDay)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.NotErrorIs(t, err, ErrSlotUnavailable)
	})
}

func TestSetVerdict(t *testing.T) {
	ctx := context.Background()
	now := day(2025, 6, 1).Add(11 * time.Hour)

	pending := func() *models.Booking {
		return &models.Booking{
			ID: "b1", Status: models.StatusPending,
			CreatedAt: now.Add(-5 * time.Minute), UpdatedAt: now.Add(-5 * time.Minute),
			Version: 1,
		}
	}

	t.Run("confirm pending", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		store.On("GetBooking", ctx, "b1").Return(pending(), nil).Once()
		store.On("UpdateBookingStatus", ctx, "b1", int64(1), models.StatusConfirmed, now).Return(nil).Once()

		b, err := svc.SetVerdict(ctx, "b1", models.StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		assert.Equal(t, now, b.UpdatedAt)
		assert.Equal(t, int64(2), b.Version)
		store.AssertExpectations(t)
	})

	t.Run("repeat verdict on terminal is a no-op success", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		confirmed := pending()
		confirmed.Status = models.StatusConfirmed
		store.On("GetBooking", ctx, "b1").Return(confirmed, nil).Once()
		// No UpdateBookingStatus expected.

		b, err := svc.SetVerdict(ctx, "b1", models.StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		store.AssertExpectations(t)
	})

	t.Run("verdict on expired booking fails", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		expired := pending()
		expired.Status = models.StatusExpired
		store.On("GetBooking", ctx, "b1").Return(expired, nil).Once()

		_, err := svc.SetVerdict(ctx, "b1", models.StatusConfirmed)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown booking", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		store.On("GetBooking", ctx, "ghost").Return(nil, storage.ErrNoBooking).Once()

		_, err := svc.SetVerdict(ctx, "ghost", models.StatusRejected)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown verdict", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		_, err := svc.SetVerdict(ctx, "b1", "maybe")
		assert.True(t, IsValidation(err))
	})

	t.Run("version race retried against fresh record", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		store.On("GetBooking", ctx, "b1").Return(pending(), nil).Once()
		store.On("UpdateBookingStatus", ctx, "b1", int64(1), models.StatusConfirmed, now).
			Return(storage.ErrConcurrentModification).Once()

		// Another writer confirmed it meanwhile: retry sees the terminal
		// state and succeeds idempotently.
		raced := pending()
		raced.Status = models.StatusConfirmed
		raced.Version = 2
		store.On("GetBooking", ctx, "b1").Return(raced, nil).Once()

		b, err := svc.SetVerdict(ctx, "b1", models.StatusConfirmed)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		store.AssertExpectations(t)
	})
}

func TestIsAvailable(t *testing.T) {
	ctx := context.Background()
	now := day(2025, 6, 1)

	t.Run("free slot", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})
		store.On("CountActiveForSlot", ctx, int64(7), day(2025, 6, 2), models.ShiftDay).Return(0, nil).Once()

		free, err := svc.IsAvailable(ctx, 7, day(2025, 6, 2), models.ShiftDay)
		require.NoError(t, err)
		assert.True(t, free)
	})

	t.Run("occupied slot", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})
		store.On("CountActiveForSlot", ctx, int64(7), day(2025, 6, 2), models.ShiftDay).Return(1, nil).Once()

		free, err := svc.IsAvailable(ctx, 7, day(2025, 6, 2), models.ShiftDay)
		require.NoError(t, err)
		assert.False(t, free)
	})

	t.Run("storage fault never reads as available", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})
		store.On("CountActiveForSlot", ctx, int64(7), day(2025, 6, 2), models.ShiftDay).
			Return(0, errors.New("timeout")).Once()

		free, err := svc.IsAvailable(ctx, 7, day(2025, 6, 2), models.ShiftDay)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.False(t, free)
	})

	t.Run("bad shift", func(t *testing.T) {
		store := new(mockStore)
		svc := newService(store, nil, clock.Fixed{T: now})

		_, err := svc.IsAvailable(ctx, 7, day(2025, 6, 2), models.Shift("brunch"))
		assert.True(t, IsValidation(err))
	})
}

func TestUserBookings(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	svc := newService(store, nil, clock.Fixed{T: day(2025, 6, 1)})

	list := []models.Booking{{ID: "b2"}, {ID: "b1"}}
	store.On("ListRequesterBookings", ctx, int64(3), 10).Return(list, nil).Once()

	got, err := svc.UserBookings(ctx, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, list, got)
	store.AssertExpectations(t)
}

// racyStore is an in-memory store whose check and insert are separate
// critical sections with a scheduling gap between them. Without the
// coordinator's per-slot lock it would happily double-book; the concurrency
// test below proves the coordinator closes that gap.
type racyStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
}

func newRacyStore() *racyStore {
	return &racyStore{bookings: make(map[string]*models.Booking)}
}

func (r *racyStore) activeOnSlot(key string) int {
	count := 0
	for _, b := range r.bookings {
		if b.SlotKey() == key && b.OccupiesSlot() {
			count++
		}
	}
	return count
}

func (r *racyStore) CreateBookingSlot(ctx context.Context, b *models.Booking) error {
	r.mu.Lock()
	occupied := r.activeOnSlot(b.SlotKey()) > 0
	r.mu.Unlock()

	if occupied {
		return storage.ErrSlotTaken
	}

	time.Sleep(time.Millisecond) // widen the check-to-insert window

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *b
	r.bookings[b.ID] = &clone
	return nil
}

func (r *racyStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, storage.ErrNoBooking
	}
	clone := *b
	return &clone, nil
}

func (r *racyStore) UpdateBookingStatus(ctx context.Context, id string, version int64, status string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return storage.ErrNoBooking
	}
	if b.Version != version {
		return storage.ErrConcurrentModification
	}
	b.Status = status
	b.UpdatedAt = updatedAt
	b.Version++
	return nil
}

func (r *racyStore) CountActiveForSlot(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeOnSlot(models.SlotKey(propertyID, date, shift)), nil
}

func (r *racyStore) ListRequesterBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.RequesterID == requesterID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *racyStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Booking
	for _, b := range r.bookings {
		if b.Status == models.StatusPending && !b.CreatedAt.After(cutoff) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func TestReserve_NoDoubleBooking(t *testing.T) {
	ctx := context.Background()
	store := newRacyStore()
	svc := newService(store, nil, clock.Fixed{T: day(2025, 6, 1)})

	const n = 24
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(ctx, 7, int64(i), day(2025, 6, 10), models.ShiftNight)
			results[i] = err
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrSlotUnavailable)
		}
	}
	assert.Equal(t, 1, won)

	count, err := store.CountActiveForSlot(ctx, 7, day(2025, 6, 10), models.ShiftNight)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReserve_IndependentSlotsRunInParallel(t *testing.T) {
	ctx := context.Background()
	store := newRacyStore()
	svc := newService(store, nil, clock.Fixed{T: day(2025, 6, 1)})

	var wg sync.WaitGroup
	errs := make([]error, len(models.Shifts))
	for i, shift := range models.Shifts {
		wg.Add(1)
		go func(i int, shift models.Shift) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(ctx, 7, int64(i), day(2025, 6, 10), shift)
		}(i, shift)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
