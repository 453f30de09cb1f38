package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the Limiter interface on a shared Redis store,
// giving horizontally scaled gateway instances one consistent counter per
// (identity, endpoint). Windows are fixed: the first INCR of a key sets its
// TTL to the window size and the key expires with the window.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewRedisLimiter creates a Redis-backed limiter.
//
// All client calls carry bounded timeouts; a slow or unreachable Redis
// fails the admission check rather than hanging the request.
func NewRedisLimiter(addr, password string, db int, windowSize time.Duration, max int) (*RedisLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if windowSize <= 0 {
		return nil, errors.New("window must be positive")
	}
	if max <= 0 {
		return nil, errors.New("max must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisLimiter{client: client, window: windowSize, max: max}, nil
}

// Allow implements Limiter. INCR is atomic in Redis, so concurrent requests
// for the same key never lose an update.
func (l *RedisLimiter) Allow(ctx context.Context, identity, endpoint string) (Decision, error) {
	k := "lifeboat:ratelimit:" + key(identity, endpoint)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}

	count := int(incr.Val())
	if count > l.max {
		ttl, err := l.client.PTTL(ctx, k).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Decision{
			Permitted:  false,
			RetryAfter: ttl,
			Remaining:  0,
			Limit:      l.max,
		}, nil
	}

	return Decision{
		Permitted: true,
		Remaining: l.max - count,
		Limit:     l.max,
	}, nil
}

// Ping checks the Redis connection health.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client connection. Safe to call multiple times.
func (l *RedisLimiter) Close() error {
	if l.client == nil {
		return nil
	}
	err := l.client.Close()
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}
	return err
}
