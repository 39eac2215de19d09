package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKey     = "walletd:reconcile:lock"
	lastSyncKey = "walletd:reconcile:last_success"
)

// RedisLock collapses concurrent reconcile triggers (bus events, ticks,
// multiple daemon instances sharing one ledger) into a single active run.
type RedisLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLock(rdb *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey, "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reconcile lock acquire failed: %w", err)
	}
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	return l.rdb.Del(ctx, lockKey).Err()
}

// MarkSynced records when the queue last drained completely.
func (l *RedisLock) MarkSynced(ctx context.Context) error {
	return l.rdb.Set(ctx, lastSyncKey, time.Now().UTC().Format(time.RFC3339), 0).Err()
}
