// Package ratelimit provides rate limiters for the external AI APIs.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
// Multiple workers share the same budget through the shared key.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	rate   int
	window time.Duration
}

// NewSlidingWindowLimiter creates a limiter allowing rate requests per window.
func NewSlidingWindowLimiter(redisClient *redis.Client, rate int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redisClient,
		rate:   rate,
		window: window,
	}
}

// Allow checks if a request is allowed, returning the wait duration if not.
// Redis being unavailable fails open: the provider's own limits still apply.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil {
		return true, 0
	}

	now := time.Now()
	windowStart := now.Add(-l.window)
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	script := redis.NewScript(`
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_start = tonumber(ARGV[2])
		local max_requests = tonumber(ARGV[3])
		local window_ms = tonumber(ARGV[4])

		redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

		local count = redis.call('ZCARD', key)

		if count < max_requests then
			redis.call('ZADD', key, now, now .. '-' .. math.random())
			redis.call('PEXPIRE', key, window_ms * 2)
			return 1
		else
			local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
			if #oldest > 0 then
				return -(oldest[2] + window_ms - now)
			end
			return 0
		end
	`)

	result, err := script.Run(ctx, l.redis, []string{redisKey},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.rate,
		l.window.Milliseconds(),
	).Int64()

	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// Wait blocks until a slot is available or the context expires.
func (l *SlidingWindowLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retryIn := l.Allow(ctx, key)
		if ok {
			return nil
		}
		if retryIn <= 0 {
			retryIn = l.window
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryIn):
		}
	}
}

// TokenBudget is an in-process tokens-per-window budget (LLM TPM limits).
// Reserve blocks when the window's budget is spent.
type TokenBudget struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	used        int
	windowStart time.Time
}

// NewTokenBudget creates a budget of limit tokens per window.
func NewTokenBudget(limit int, window time.Duration) *TokenBudget {
	return &TokenBudget{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
	}
}

// Reserve blocks until tokens fit into the current window's budget.
// Requests larger than the whole budget are admitted alone.
func (b *TokenBudget) Reserve(ctx context.Context, tokens int) error {
	if b.limit <= 0 {
		return nil
	}
	if tokens > b.limit {
		tokens = b.limit
	}

	for {
		b.mu.Lock()
		now := time.Now()
		if now.Sub(b.windowStart) >= b.window {
			b.used = 0
			b.windowStart = now
		}
		if b.used+tokens <= b.limit {
			b.used += tokens
			b.mu.Unlock()
			return nil
		}
		wait := b.window - now.Sub(b.windowStart)
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
