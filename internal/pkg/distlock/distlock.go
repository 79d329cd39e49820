// Package distlock provides a single-holder lock shared across service
// replicas. The resend worker takes it so only one replica drains the queue
// at a time.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release and Extend when the caller no longer owns
// the lock (it expired or was never acquired).
var ErrNotHeld = errors.New("distlock: lock not held")

// DistLock is the interface for distributed locking.
// A lock instance belongs to one owner; concurrent owners need separate
// instances.
type DistLock interface {
	// Acquire tries to acquire the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock prefers Redis when a client is given and falls back to PostgreSQL
// advisory locks. It returns an error when neither backend is available.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) (DistLock, error) {
	if redisClient != nil {
		l, err := NewRedisLock(redisClient, key, ttl)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key), nil
	}
	return nil, errors.New("distlock: no redis client or database configured")
}

// PGAdvisoryLock implements DistLock using session-scoped
// pg_try_advisory_lock. Lock and unlock must run on the same session, so the
// lock pins one pool connection from Acquire until Release. If that
// connection drops, PostgreSQL releases the lock.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: get connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return ErrNotHeld
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released); err != nil {
		return fmt.Errorf("distlock: advisory unlock: %w", err)
	}
	if !released {
		return ErrNotHeld
	}
	return nil
}
