package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStateStore(client), mr
}

func TestRedisStateStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "key-1", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Get() = %s, want payload", got)
	}

	if err = store.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got, err = store.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() after delete = %s, want nil", got)
	}
}

func TestRedisStateStoreTakeConsumesKey(t *testing.T) {
	t.Parallel()
	store, _ := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "key-take", []byte("once"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	first, err := store.Take(ctx, "key-take")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if string(first) != "once" {
		t.Fatalf("Take() = %s, want once", first)
	}
	second, err := store.Take(ctx, "key-take")
	if err != nil {
		t.Fatalf("second Take() error = %v", err)
	}
	if second != nil {
		t.Errorf("second Take() = %s, want nil", second)
	}
}

func TestRedisStateStoreExpiry(t *testing.T) {
	t.Parallel()
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "key-exp", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	got, err := store.Get(ctx, "key-exp")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %s, want nil after TTL", got)
	}
}
