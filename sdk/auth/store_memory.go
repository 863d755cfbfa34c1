package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore is the volatile fallback tier. Entries live in process
// memory and disappear on restart.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStateStore constructs an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry)}
}

// Name implements StateStore.
func (s *MemoryStateStore) Name() string { return "memory" }

// Set implements StateStore.
func (s *MemoryStateStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = memoryEntry{value: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get implements StateStore. Expired entries are dropped and reported absent.
func (s *MemoryStateStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	return entry.value, nil
}

// Take implements StateStore. Read and delete happen under one lock, so a
// concurrent Take for the same key observes a miss.
func (s *MemoryStateStore) Take(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	delete(s.entries, key)
	if time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.value, nil
}

// Delete implements StateStore.
func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// CleanupExpired implements StateStore.
func (s *MemoryStateStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
