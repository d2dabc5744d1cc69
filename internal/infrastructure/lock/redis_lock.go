package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-stock-reservation/internal/outbox"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockHeld means another holder owns the lease right now.
	ErrLockHeld    = errors.New("lock already held")
	ErrLockNotHeld = errors.New("lock was not held or already expired")
)

// RedisLocker hands out a single named lease backed by redsync.
type RedisLocker struct {
	rs     *redsync.Redsync
	key    string
	expiry time.Duration
}

func NewRedisLocker(client redis.UniversalClient, key string, expiry time.Duration) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		expiry: expiry,
	}
}

// Acquire tries once and returns ErrLockHeld when the lease is taken.
func (l *RedisLocker) Acquire(ctx context.Context) (outbox.Lease, error) {
	mutex := l.rs.NewMutex(l.key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		msg := err.Error()
		if errors.Is(err, redsync.ErrFailed) ||
			strings.Contains(msg, "lock already taken") ||
			strings.Contains(msg, "failed to acquire lock") {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}

	return &lease{mutex: mutex}, nil
}

type lease struct {
	mutex *redsync.Mutex
}

// Extend resets the lease to its full expiry.
func (l *lease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

func (l *lease) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}
