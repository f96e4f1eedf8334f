package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments the hit count for key within a fixed window and reports
// the count together with the time left in the window.
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int, time.Duration, error)
}

type window struct {
	hits  int
	until time.Time
}

// MemoryCounter keeps windows in process. Expired windows are swept every
// sweepEvery hits.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

const sweepEvery = 1024

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: map[string]*window{}, now: time.Now}
}

func (c *MemoryCounter) Hit(_ context.Context, key string, span time.Duration) (int, time.Duration, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls%sweepEvery == 0 {
		for k, w := range c.windows {
			if !now.Before(w.until) {
				delete(c.windows, k)
			}
		}
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.until) {
		w = &window{until: now.Add(span)}
		c.windows[key] = w
	}
	w.hits++
	return w.hits, w.until.Sub(now), nil
}

// RedisCounter shares windows between replicas. The key expiry is set only
// on the first hit so the window does not slide.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Hit(ctx context.Context, key string, span time.Duration) (int, time.Duration, error) {
	k := c.prefix + key
	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, span)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	left := ttl.Val()
	if left < 0 {
		left = span
	}
	return int(incr.Val()), left, nil
}
