package router

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter enforces per-route request budgets. The limit is expressed in
// requests per minute, keyed by (plugin_id, path, tenant_id).
type Limiter interface {
	Allow(ctx context.Context, key string, perMinute int) (bool, error)
}

// LocalLimiter is an in-process token-bucket limiter. Buckets refill at
// limit/60 per second with a burst of the full per-minute budget. Idle
// buckets are evicted after an hour.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates a LocalLimiter and starts its eviction loop.
func NewLocalLimiter() *LocalLimiter {
	l := &LocalLimiter{buckets: make(map[string]*localBucket)}
	go l.evictLoop()
	return l
}

// Allow reports whether one more request fits the key's budget.
func (l *LocalLimiter) Allow(_ context.Context, key string, perMinute int) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{
			limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow(), nil
}

func (l *LocalLimiter) evictLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-time.Hour)
		l.mu.Lock()
		for key, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// RedisLimiter is a fixed-window counter over Redis, for deployments running
// more than one host instance. The window is one minute per key.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "plugrt:ratelimit:"}
}

// Allow increments the key's window counter and compares it to the budget.
func (l *RedisLimiter) Allow(ctx context.Context, key string, perMinute int) (bool, error) {
	redisKey := l.prefix + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, time.Minute).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(perMinute), nil
}
