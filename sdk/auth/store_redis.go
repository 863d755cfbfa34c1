package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore is the shared durable tier backed by Redis. Expiry rides on
// Redis native TTLs, so CleanupExpired has nothing to sweep.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore constructs a Redis-backed store from an existing client.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Name implements StateStore.
func (s *RedisStateStore) Name() string { return "redis" }

// Set implements StateStore.
func (s *RedisStateStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get implements StateStore.
func (s *RedisStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return value, nil
}

// Take implements StateStore. GETDEL makes the read-and-delete atomic on the
// server, so a concurrent Take for the same key observes a miss.
func (s *RedisStateStore) Take(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}
	return value, nil
}

// Delete implements StateStore.
func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// CleanupExpired implements StateStore.
func (s *RedisStateStore) CleanupExpired(context.Context) (int, error) {
	return 0, nil
}
