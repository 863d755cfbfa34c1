package auth

import (
	"context"
	"time"
)

// StateStore abstracts a key-value backend for PKCE exchange states. Stores
// are tried in priority order at write time; reads target whichever store
// holds the record.
//
// Get and Take return (nil, nil) on a miss so callers can distinguish absence
// from backend failure.
type StateStore interface {
	// Name identifies the store, recorded as the state's storage method.
	Name() string
	// Set persists value under key with the given time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value under key, or nil when absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Take atomically reads and deletes the value under key. Of two
	// concurrent Take calls for the same key, at most one receives the value.
	Take(ctx context.Context, key string) ([]byte, error)
	// Delete removes the value under key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// CleanupExpired removes expired entries and reports how many were dropped.
	CleanupExpired(ctx context.Context) (int, error)
}
