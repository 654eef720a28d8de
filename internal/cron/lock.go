package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/stockflow-backend/pkg/redis"
)

const (
	defaultLockName = "cron-worker"
	defaultLockTTL  = 4 * time.Minute
)

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock implements Lock on the token-checked Redis lock helpers.
type RedisLock struct {
	locker redis.Locker
	name   string
	ttl    time.Duration
	token  string
}

// NewRedisLock constructs a Redis-backed lock. The TTL should stay below the
// cron interval so a crashed worker does not skip more than one cycle.
func NewRedisLock(locker redis.Locker, name string, ttl time.Duration) (*RedisLock, error) {
	if locker == nil {
		return nil, errors.New("redis locker required for lock")
	}
	if name == "" {
		name = defaultLockName
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{locker: locker, name: name, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token, ok, err := l.locker.AcquireLock(ctx, l.name, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release frees the lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	if err := l.locker.ReleaseLock(ctx, l.name, l.token); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.token = ""
	return nil
}
