package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter is the Redis-backed fixed-window limiter. Windows are shared
// across all instances; atomicity comes from INCR.
type RedisLimiter struct {
	client *redis.Client
	length time.Duration
	prefix string
}

// NewRedisLimiter creates a limiter over an existing Redis client.
func NewRedisLimiter(client *redis.Client, length time.Duration, prefix string) *RedisLimiter {
	if length <= 0 {
		length = DefaultWindow
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, length: length, prefix: prefix}
}

// Admit implements Limiter. The first increment of a window sets its expiry;
// later requests read the remaining TTL for the reset timestamp. On Redis
// errors the decision is permissive and the error is returned for the caller
// to log and apply its fail-open/fail-closed policy.
func (l *RedisLimiter) Admit(ctx context.Context, key string, budget int) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	now := time.Now()

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: budget, Remaining: budget, ResetAt: now.Add(l.length)},
			fmt.Errorf("redis error: %w", err)
	}

	if count == 1 {
		if err := l.client.PExpire(ctx, redisKey, l.length).Err(); err != nil {
			return Decision{Allowed: true, Limit: budget, Remaining: budget, ResetAt: now.Add(l.length)},
				fmt.Errorf("redis error: %w", err)
		}
	}

	resetAt := now.Add(l.length)
	if ttl, err := l.client.PTTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
		resetAt = now.Add(ttl)
	}

	remaining := budget - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(budget),
		Limit:     budget,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the window for a key. Admin/test use.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}

// HealthCheck verifies Redis connectivity.
func (l *RedisLimiter) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
