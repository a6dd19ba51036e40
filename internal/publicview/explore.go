package publicview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const exploreKey = "explore:published"

// ExploreCache stores the encoded list of published restaurants.
type ExploreCache interface {
	Get(ctx context.Context) ([]byte, bool, error)
	Set(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// RedisExploreCache keeps the explore listing in Redis so every instance
// shares it.
type RedisExploreCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisExploreCache creates a cache whose entry expires after ttl.
func NewRedisExploreCache(client *redis.Client, ttl time.Duration) *RedisExploreCache {
	return &RedisExploreCache{client: client, ttl: ttl}
}

// Get implements ExploreCache.
func (c *RedisExploreCache) Get(ctx context.Context) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, exploreKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set implements ExploreCache.
func (c *RedisExploreCache) Set(ctx context.Context, data []byte) error {
	return c.client.Set(ctx, exploreKey, data, c.ttl).Err()
}

// Delete implements ExploreCache.
func (c *RedisExploreCache) Delete(ctx context.Context) error {
	return c.client.Del(ctx, exploreKey).Err()
}

// MemoryExploreCache is an in-process ExploreCache.
type MemoryExploreCache struct {
	mu      sync.Mutex
	data    []byte
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryExploreCache creates an in-process cache with the given ttl.
func NewMemoryExploreCache(ttl time.Duration) *MemoryExploreCache {
	return &MemoryExploreCache{ttl: ttl, now: time.Now}
}

// Get implements ExploreCache.
func (c *MemoryExploreCache) Get(context.Context) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	return c.data, true, nil
}

// Set implements ExploreCache.
func (c *MemoryExploreCache) Set(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expires = c.now().Add(c.ttl)
	return nil
}

// Delete implements ExploreCache.
func (c *MemoryExploreCache) Delete(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
	return nil
}
