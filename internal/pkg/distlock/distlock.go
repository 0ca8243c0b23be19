// Package distlock provides a best-effort distributed lock for the step
// scheduler tick. Overlapping ticks are already safe (the per-enrollment
// claim is the serialization point); the lock just avoids wasted work when
// multiple workers fire at once.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking try-lock.
type Lock interface {
	// TryAcquire attempts to take the lock, returning true on success.
	TryAcquire(ctx context.Context) (bool, error)
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// New returns a Redis-backed lock when a client is available (preferred for
// cross-host workers), falling back to a Postgres advisory lock.
func New(rdb *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if rdb != nil {
		return NewRedisLock(rdb, key, ttl)
	}
	return NewAdvisoryLock(db, key)
}

// AdvisoryLock uses pg_try_advisory_lock. Advisory locks are session-scoped,
// so a held lock pins a dedicated connection: acquire and release must run
// on the same session, and a dropped connection releases the lock, which
// mirrors Redis TTL expiry.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn // non-nil while the lock is held
}

// NewAdvisoryLock derives a deterministic 64-bit lock ID from the key.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// TryAcquire attempts to take the advisory lock without blocking. On
// success the connection stays checked out until Release.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		// Already held by this instance.
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&ok); err != nil {
		conn.Close()
		return false, err
	}
	if !ok {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release frees the advisory lock on the session that took it, then returns
// the connection to the pool. A no-op when the lock is not held.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return err
	}
	return closeErr
}
