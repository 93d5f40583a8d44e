package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache remembers signatures for the length of the replay window.
type ReplayCache interface {
	// Seen records signature and reports whether it was already present.
	Seen(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

// MemoryReplayCache is a process-local ReplayCache.
type MemoryReplayCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryReplayCache creates an empty cache. A nil clock uses time.Now.
func NewMemoryReplayCache(now func() time.Time) *MemoryReplayCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayCache{entries: make(map[string]time.Time), now: now}
}

func (c *MemoryReplayCache) Seen(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for sig, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, sig)
		}
	}
	if _, ok := c.entries[signature]; ok {
		return true, nil
	}
	c.entries[signature] = now.Add(ttl)
	return false, nil
}

// Len returns the number of live entries.
func (c *MemoryReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisReplayCache shares seen signatures across tool service replicas.
type RedisReplayCache struct {
	client *redis.Client
	prefix string
}

// NewRedisReplayCache creates a cache that stores keys under "leadflow:replay:".
func NewRedisReplayCache(client *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{client: client, prefix: "leadflow:replay:"}
}

func (c *RedisReplayCache) Seen(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+signature, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
