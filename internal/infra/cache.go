package infra

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const localCacheSize = 10000

// Cache is a two-tier cache: an in-process TinyLFU tier in front of Redis.
// Without a Redis client only the local tier is used.
type Cache struct {
	cache  *cache.Cache
	prefix string
}

// NewCache builds a cache whose keys are namespaced with prefix. localTTL
// bounds how long the local tier keeps an entry.
func NewCache(client *redis.Client, prefix string, localTTL time.Duration) *Cache {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	opts := &cache.Options{LocalCache: cache.NewTinyLFU(localCacheSize, localTTL)}
	if client != nil {
		opts.Redis = client
	}
	return &Cache{cache: cache.New(opts), prefix: prefix}
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   c.prefix + key,
		Value: value,
		TTL:   ttl,
	})
}

// Get loads key into dst. It reports false on a cache miss.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	err := c.cache.Get(ctx, c.prefix+key, dst)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.cache.Delete(ctx, c.prefix+key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
