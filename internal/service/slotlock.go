package service

import "sync"

// slotLocks serializes reserve attempts per (property, date, shift) tuple.
// Different tuples proceed fully in parallel; the lock is held only across
// the check-and-insert window. Locks are never removed: the key space is
// bounded by properties x dates actually contended, and a stale entry costs
// one mutex.
type slotLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSlotLocks() *slotLocks {
	return &slotLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *slotLocks) get(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
