package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/ports"
)

// CacheStore implements ports.CacheStore on Redis.
type CacheStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewCacheStore creates a Redis cache store. Entries expire after ttl;
// a non-positive ttl keeps them until evicted.
func NewCacheStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CacheStore {
	if ttl < 0 {
		ttl = 0
	}
	return &CacheStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns the payload stored under key, or ports.ErrCacheMiss.
func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, getCacheKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("cache key %q: %w", key, ports.ErrCacheMiss)
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return data, nil
}

// Put stores the payload under key, replacing any previous entry.
func (c *CacheStore) Put(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, getCacheKey(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	c.logger.Debug("cache entry saved",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return nil
}

// getCacheKey returns the Redis key for a cache entry
func getCacheKey(key string) string {
	return fmt.Sprintf("phaseline:cache:%s", key)
}
