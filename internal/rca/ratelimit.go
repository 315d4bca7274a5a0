// Package rca runs background incident investigations: the entry task, the
// summariser and citation extraction, follow-up suggestion parsing, and the
// stale-session sweeper. Each investigation is an ordinary agent turn on a
// background-mode session with a no-op socket sink.
package rca

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitWindow = 5 * time.Minute
	rateLimitMax    = 5

	rateKeyPrefix = "aurora:rca:rate:"
)

// redisCounter is the slice of the Redis client the limiter uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimiter bounds investigations per principal to rateLimitMax per
// rateLimitWindow using a Redis INCR counter with a TTL window.
type RateLimiter struct {
	rdb redisCounter
}

// NewRateLimiter wraps a Redis client. A nil client disables limiting.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	if rdb == nil {
		return &RateLimiter{}
	}
	return &RateLimiter{rdb: rdb}
}

// Allow reports whether the principal may start another investigation. The
// window starts with the first request. A Redis failure allows the request
// and returns the error so the caller can log the degradation.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	if l == nil || l.rdb == nil {
		return true, nil
	}
	key := rateKeyPrefix + userID
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, rateLimitWindow).Err(); err != nil {
			return true, err
		}
	}
	return n <= rateLimitMax, nil
}
