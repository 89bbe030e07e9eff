package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter shares one fixed-window budget per client across every
// replica. Each window gets its own counter key, so a key never outlives two
// windows.
type RedisRateLimiter struct {
	client *redis.Client
	rate   int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, requestsPerWindow int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		rate:   requestsPerWindow,
		window: window,
		prefix: "tinylink:ratelimit:",
		now:    time.Now,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	counter := rl.windowKey(key)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, counter)
	pipe.Expire(ctx, counter, 2*rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}

	return incr.Val() <= int64(rl.rate), nil
}

func (rl *RedisRateLimiter) Limit() int { return rl.rate }

func (rl *RedisRateLimiter) Window() time.Duration { return rl.window }

func (rl *RedisRateLimiter) windowKey(key string) string {
	slot := rl.now().UnixNano() / int64(rl.window)
	return fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)
}
