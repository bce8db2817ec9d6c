package workflow

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "wf:lock:"

// RunLock serializes execution per workflow thread. Resume callbacks can
// race the node loop (a user double-taps a button); the lock guarantees
// one runner per thread_id across processes.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock creates the lock. A nil client disables locking (tests,
// single-process deployments).
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes the per-thread lock. Returns a release func and whether
// the lock was obtained.
func (l *RunLock) Acquire(ctx context.Context, threadID string) (func(), bool, error) {
	if l.client == nil {
		return func() {}, true, nil
	}

	key := lockKeyPrefix + threadID
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Release is best effort; the TTL is the backstop.
		_ = l.client.Del(context.Background(), key).Err()
	}
	return release, true, nil
}
