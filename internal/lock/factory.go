package lock

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// NewLockerFromConfig creates the configured locker. The returned close
// function releases any connection the locker owns.
func NewLockerFromConfig(cfg config.LockConfig, logger drive.Logger) (drive.Locker, func() error, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(), func() error { return nil }, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("redis lock requires redis_addr")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		retries := cfg.Retries
		if retries == 0 {
			retries = DefaultRetries
		}
		locker := NewRedisLocker(rdb, RedisLockOptions{
			TTL:     time.Duration(cfg.TTLSeconds) * time.Second,
			Retries: retries,
		}, logger)
		return locker, rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock type: %q", cfg.Type)
	}
}
