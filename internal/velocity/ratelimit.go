package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared through Redis, so every
// service instance enforces the same limit for a scope. Counting uses a
// single INCR per request; the TTL is attached when the window key is first
// created.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	max    int64
}

// NewRateLimiter creates a rate limiter allowing max requests per window.
func NewRateLimiter(client *redis.Client, window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		client: client,
		window: window,
		max:    int64(max),
	}
}

// Allow counts one request for the scope and reports whether it is within
// the limit. When denied, retryAfter is the time remaining in the current
// window.
func (r *RateLimiter) Allow(ctx context.Context, scope string) (allowed bool, retryAfter time.Duration, err error) {
	now := time.Now()
	bucket := now.Truncate(r.window)
	key := fmt.Sprintf("ratelimit:%s:%d", scope, bucket.Unix())

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	if count > r.max {
		return false, bucket.Add(r.window).Sub(now), nil
	}
	return true, 0, nil
}
