package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"casitas/internal/session"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetState(ctx context.Context, requesterID int64) (*DialogState, error) {
	args := m.Called(ctx, requesterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DialogState), args.Error(1)
}

func (m *mockRepo) SetState(ctx context.Context, state *DialogState) error {
	return m.Called(ctx, state).Error(0)
}

func (m *mockRepo) ClearState(ctx context.Context, requesterID int64) error {
	return m.Called(ctx, requesterID).Error(0)
}

func TestFailoverStateRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverStateRepository(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		state := &DialogState{RequesterID: 1}
		primary.On("GetState", ctx, int64(1)).Return(state, nil).Once()

		got, err := repo.GetState(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		state := &DialogState{RequesterID: 2}
		primary.On("GetState", ctx, int64(2)).Return(nil, errors.New("fail")).Once()
		fallback.On("GetState", ctx, int64(2)).Return(state, nil).Once()

		got, err := repo.GetState(ctx, 2)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("DownSkipsPrimaryUntilCooldown", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()

		fallback.On("GetState", ctx, int64(4)).Return(&DialogState{RequesterID: 4}, nil).Once()

		_, err := repo.GetState(ctx, 4)
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)

		state := &DialogState{RequesterID: 3}
		primary.On("GetState", ctx, int64(3)).Return(state, nil).Once()

		got, err := repo.GetState(ctx, 3)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("SetMirrorsToFallback", func(t *testing.T) {
		repo.isDown.Store(false)
		state := &DialogState{RequesterID: 5}
		primary.On("SetState", ctx, state).Return(nil).Once()
		fallback.On("SetState", ctx, state).Return(nil).Once()

		assert.NoError(t, repo.SetState(ctx, state))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}

func TestRedisStateRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewRedisStateRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		state := &DialogState{
			RequesterID: 3,
			State:       session.StateAskDate,
			Data: session.Data{
				RequesterID: 3,
				PropertyID:  7,
			},
			UpdatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		}
		require.NoError(t, repo.SetState(ctx, state))

		got, err := repo.GetState(ctx, 3)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, session.StateAskDate, got.State)
		assert.Equal(t, int64(7), got.Data.PropertyID)
	})

	t.Run("missing state is nil, not an error", func(t *testing.T) {
		got, err := repo.GetState(ctx, 99)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, repo.SetState(ctx, &DialogState{RequesterID: 4}))
		require.NoError(t, repo.ClearState(ctx, 4))

		got, err := repo.GetState(ctx, 4)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("state expires with ttl", func(t *testing.T) {
		require.NoError(t, repo.SetState(ctx, &DialogState{RequesterID: 6}))
		mr.FastForward(2 * time.Hour)

		got, err := repo.GetState(ctx, 6)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryStateRepository(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()

	state := &DialogState{RequesterID: 1, State: session.StateConfirm}
	require.NoError(t, repo.SetState(ctx, state))

	got, err := repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, session.StateConfirm, got.State)

	// Stored by value; mutating the original must not leak in.
	state.State = session.StateCanceled
	got, err = repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, session.StateConfirm, got.State)

	require.NoError(t, repo.ClearState(ctx, 1))
	got, err = repo.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}
