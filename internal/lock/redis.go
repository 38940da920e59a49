package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"drive-go/internal/drive"
)

const (
	DefaultTTL     = 30 * time.Second
	DefaultRetries = 50
	keyPrefix      = "drive:lock:owner:"
)

// RedisLockOptions tunes a RedisLocker.
type RedisLockOptions struct {
	TTL     time.Duration
	Retries int
}

// RedisLocker serializes operations per owner across processes sharing a
// redis instance. A held lock is refreshed at half its TTL until released.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
	logger  drive.Logger
}

// NewRedisLocker creates a RedisLocker on top of an existing client.
func NewRedisLocker(rdb redis.UniversalClient, opts RedisLockOptions, logger drive.Logger) *RedisLocker {
	l := &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     opts.TTL,
		retries: opts.Retries,
		logger:  logger,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.retries < 0 {
		l.retries = 0
	}
	if l.logger == nil {
		l.logger = drive.NewNopLogger()
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, owner string) (func(), error) {
	var retryStrategy redislock.RetryStrategy = redislock.NoRetry()
	if l.retries > 0 {
		retryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), l.retries)
	}

	key := keyPrefix + owner
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: retryStrategy,
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("owner %s is busy: %w", owner, err)
		}
		return nil, fmt.Errorf("obtaining lock %s: %w", key, err)
	}

	done := make(chan struct{})
	go l.keepAlive(lock, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(lock *redislock.Lock, done <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.Background(), l.ttl, nil); err != nil {
				l.logger.Warn("failed to refresh lock", "key", lock.Key(), "error", err)
				return
			}
		}
	}
}

// Compile-time check that RedisLocker implements drive.Locker interface
var _ drive.Locker = (*RedisLocker)(nil)
