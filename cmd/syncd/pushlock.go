// ABOUTME: Per-user mutexes that serialize push execution.
// ABOUTME: The engine's conflict check and apply are separate steps; this closes the gap.

package main

import "sync"

// userLockStore hands out one mutex per user id.
type userLockStore struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

func newUserLockStore() *userLockStore {
	return &userLockStore{locks: make(map[string]*sync.Mutex)}
}

func (s *userLockStore) get(userID string) *sync.Mutex {
	s.mu.RLock()
	lock, ok := s.locks[userID]
	s.mu.RUnlock()
	if ok {
		return lock
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if lock, ok := s.locks[userID]; ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[userID] = lock
	return lock
}
