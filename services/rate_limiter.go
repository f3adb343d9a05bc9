// services/rate_limiter.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds how often a keyed action may happen inside a rolling
// window.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiterRedis is the subset of the go-redis API the limiter needs.
type RateLimiterRedis interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	ExpireNX(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// redisRateLimiter counts requests in a fixed window with INCR + EXPIRE.
// The first increment in a window sets the expiry, so the counter resets
// itself without any sweeper. Later increments must not touch the TTL, or a
// steady sub-limit trickle would keep pushing the window out and eventually
// block.
type redisRateLimiter struct {
	client RateLimiterRedis
	max    int
	window time.Duration
}

func NewRedisRateLimiter(client RateLimiterRedis, max int, window time.Duration) RateLimiter {
	return &redisRateLimiter{client: client, max: max, window: window}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed for %s: %w", key, err)
	}
	// NX also re-arms a counter whose EXPIRE was lost to a crash between the
	// two commands, so no key can become immortal.
	if err := l.client.ExpireNX(ctx, redisKey, l.window).Err(); err != nil {
		return false, fmt.Errorf("rate limit expiry failed for %s: %w", key, err)
	}

	return count <= int64(l.max), nil
}
