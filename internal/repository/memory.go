package repository

import (
	"context"
	"sync"
)

// MemoryStateRepository is the in-process fallback when redis is down.
// State held here does not survive a restart, which is acceptable for a
// dialog a user can simply restart.
type MemoryStateRepository struct {
	mu     sync.RWMutex
	states map[int64]DialogState
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{states: make(map[int64]DialogState)}
}

func (m *MemoryStateRepository) GetState(ctx context.Context, requesterID int64) (*DialogState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[requesterID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (m *MemoryStateRepository) SetState(ctx context.Context, state *DialogState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.RequesterID] = *state
	return nil
}

func (m *MemoryStateRepository) ClearState(ctx context.Context, requesterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, requesterID)
	return nil
}
