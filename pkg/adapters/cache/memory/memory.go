package memory

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/aescanero/phaseline/pkg/ports"
)

// CacheStore implements ports.CacheStore in process memory, backed by
// go-cache so entries expire like the Redis backend's do.
type CacheStore struct {
	cache *gocache.Cache
}

// NewCacheStore creates an in-memory cache store. A non-positive ttl
// keeps entries for the life of the process.
func NewCacheStore(ttl time.Duration) *CacheStore {
	expiration := ttl
	cleanup := 10 * time.Minute
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &CacheStore{cache: gocache.New(expiration, cleanup)}
}

// Get returns the payload stored under key, or ports.ErrCacheMiss.
func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, ok := c.cache.Get(key)
	if !ok {
		return nil, fmt.Errorf("cache key %q: %w", key, ports.ErrCacheMiss)
	}
	data, ok := value.([]byte)
	if !ok {
		return nil, fmt.Errorf("cache key %q holds unexpected type %T", key, value)
	}
	return append([]byte{}, data...), nil
}

// Put stores the payload under key, replacing any previous entry.
func (c *CacheStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Set(key, append([]byte{}, data...), gocache.DefaultExpiration)
	return nil
}
