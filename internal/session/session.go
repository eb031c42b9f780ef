// Package session tracks in-progress reservation dialogs for the chat
// channel. The reservation core never owns these; it only receives the
// collected parameters at confirmation time.
package session

import (
	"sync"
	"time"

	"casitas/internal/models"
)

// State represents the current step of a reservation dialog.
type State string

const (
	StateIdle        State = "idle"
	StateAskProperty State = "ask_property"
	StateAskDate     State = "ask_date"
	StateAskShift    State = "ask_shift"
	StateConfirm     State = "confirm"
	StateComplete    State = "complete"
	StateCanceled    State = "canceled"
)

// Data holds the parameters collected during the dialog.
type Data struct {
	RequesterID  int64        `json:"requester_id"`
	PropertyID   int64        `json:"property_id"`
	PropertyName string       `json:"property_name"`
	Date         time.Time    `json:"date"`
	Shift        models.Shift `json:"shift"`
}

// Session is one requester's dialog in progress.
type Session struct {
	State     State     `json:"state"`
	Data      Data      `json:"data"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	mu sync.Mutex
}

// NewSession starts a dialog at the property selection step.
func NewSession(requesterID int64) *Session {
	now := time.Now()
	return &Session{
		State:     StateAskProperty,
		Data:      Data{RequesterID: requesterID},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetState updates the session state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.UpdatedAt = time.Now()
}

// GetState returns the current state.
func (s *Session) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// IsExpired checks whether the dialog has been idle past the timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.UpdatedAt) > timeout
}

// FSM owns the allowed dialog transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates the dialog FSM. Each asking step may advance, step back,
// or cancel.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:        {StateAskProperty},
			StateAskProperty: {StateAskDate, StateCanceled},
			StateAskDate:     {StateAskShift, StateAskProperty, StateCanceled},
			StateAskShift:    {StateConfirm, StateAskDate, StateCanceled},
			StateConfirm:     {StateComplete, StateAskShift, StateCanceled},
			StateComplete:    {StateIdle},
			StateCanceled:    {StateIdle},
		},
	}
}

// CanTransition checks if the transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition updates the session state if allowed.
func (f *FSM) Transition(session *Session, to State) bool {
	if f.CanTransition(session.GetState(), to) {
		session.SetState(to)
		return true
	}
	return false
}

// Store keeps dialog sessions per requester.
type Store struct {
	sessions map[int64]*Session
	mu       sync.RWMutex
	timeout  time.Duration
}

// NewStore creates a session store.
func NewStore(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Store{
		sessions: make(map[int64]*Session),
		timeout:  timeout,
	}
}

// Get returns the session for a requester, or nil.
func (st *Store) Get(requesterID int64) *Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[requesterID]
}

// GetOrCreate returns the existing live session or starts a new one.
func (st *Store) GetOrCreate(requesterID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[requesterID]
	if ok && !s.IsExpired(st.timeout) {
		return s
	}

	s = NewSession(requesterID)
	st.sessions[requesterID] = s
	return s
}

// Delete removes a session.
func (st *Store) Delete(requesterID int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, requesterID)
}

// Reset replaces the session with a fresh one.
func (st *Store) Reset(requesterID int64) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := NewSession(requesterID)
	st.sessions[requesterID] = s
	return s
}

// Cleanup removes expired sessions and reports how many were dropped.
func (st *Store) Cleanup() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.IsExpired(st.timeout) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}
