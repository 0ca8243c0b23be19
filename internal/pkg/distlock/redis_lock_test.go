package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler-tick", time.Minute)
	b := NewRedisLock(client, "scheduler-tick", time.Minute)

	ok, err := a.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second worker must not acquire a held lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = b.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLock_ReleaseRequiresOwnership(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler-tick", time.Minute)
	b := NewRedisLock(client, "scheduler-tick", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// A non-owner release leaves the lock in place.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("non-owner release should be a no-op, got %v", err)
	}
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatal("lock should still be held by the owner")
	}
}

func TestRedisLock_ReacquireAfterExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	a := NewRedisLock(client, "scheduler-tick", time.Second)
	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("acquire failed")
	}

	// Crash scenario: the holder never releases, TTL expires.
	mr.FastForward(2 * time.Second)

	b := NewRedisLock(client, "scheduler-tick", time.Second)
	if ok, err := b.TryAcquire(ctx); err != nil || !ok {
		t.Fatalf("acquire after TTL expiry: ok=%v err=%v", ok, err)
	}
}
