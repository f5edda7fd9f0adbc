package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/ports"
)

// CacheStore implements ports.CacheStore as flat files under a root
// directory, one file per key hash. It gives CLI runs cache hits
// across processes without any external service.
type CacheStore struct {
	root   string
	logger *zap.Logger
}

// NewCacheStore creates the cache directory if needed.
func NewCacheStore(root string, logger *zap.Logger) (*CacheStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache store root: %w", err)
	}
	return &CacheStore{root: root, logger: logger}, nil
}

// Get returns the payload stored under key, or ports.ErrCacheMiss.
func (c *CacheStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("cache key %q: %w", key, ports.ErrCacheMiss)
		}
		return nil, fmt.Errorf("reading cache entry %q: %w", key, err)
	}
	return data, nil
}

// Put stores the payload under key, replacing any previous entry. The
// write goes through a temp file so readers never see partial content.
func (c *CacheStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.root, "incoming-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache entry %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		return fmt.Errorf("storing cache entry %q: %w", key, err)
	}

	c.logger.Debug("cache entry saved",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return nil
}

// path hashes the key so arbitrary template-rendered keys stay safe as
// file names.
func (c *CacheStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.root, hex.EncodeToString(sum[:]))
}
