package fs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/phaseline/pkg/ports"
)

func TestGetPutAcrossInstances(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first, err := NewCacheStore(root, zap.NewNop())
	require.NoError(t, err)

	_, err = first.Get(ctx, "trivy-db-main")
	require.ErrorIs(t, err, ports.ErrCacheMiss)

	require.NoError(t, first.Put(ctx, "trivy-db-main", []byte("db v1")))

	// A fresh store over the same root sees the entry, like a second
	// CLI invocation would.
	second, err := NewCacheStore(root, zap.NewNop())
	require.NoError(t, err)
	data, err := second.Get(ctx, "trivy-db-main")
	require.NoError(t, err)
	require.Equal(t, "db v1", string(data))
}

func TestPutReplacesPreviousEntry(t *testing.T) {
	s, err := NewCacheStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "key", []byte("v1")))
	require.NoError(t, s.Put(ctx, "key", []byte("v2")))

	data, err := s.Get(ctx, "key")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestKeysMayContainAnything(t *testing.T) {
	s, err := NewCacheStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	key := "scanner-db/release/1.4:../weird key"
	require.NoError(t, s.Put(ctx, key, []byte("payload")))

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}
