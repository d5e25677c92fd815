package httpx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "pulse:ratelimit:"

// RedisRateLimiter is a fixed-window limiter shared across API replicas.
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter wraps a connected Redis client.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Allow increments the key's window counter atomically. The expiry is set on
// the first hit of each window so the counter resets itself.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	redisKey := rateLimitKeyPrefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("rate limit pipeline: %w", err)
	}

	count := int(incr.Val())
	retryAfter := ttl.Val()
	if retryAfter < 0 {
		retryAfter = window
	}
	if count > limit {
		return false, 0, retryAfter, nil
	}
	return true, limit - count, retryAfter, nil
}
