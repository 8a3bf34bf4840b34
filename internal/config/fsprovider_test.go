package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeEntry(t *testing.T, root, tenant, group, dataID, content string) string {
	t.Helper()
	if tenant == "" {
		tenant = "public"
	}
	dir := filepath.Join(root, tenant, group)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, dataID)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFSProvider_HitThenChange(t *testing.T) {
	root := t.TempDir() + string(os.PathSeparator)
	writeEntry(t, root, "", "g1", "d1", "a=1")

	p := NewFSProvider(root, 0, nil)
	ctx := context.Background()

	content, err := p.Get(ctx, "d1", "g1", "", false)
	require.NoError(t, err)
	require.Equal(t, "a=1", content.Content())
	require.Equal(t, "3872c9ae3f427af0be0ead09d07ae2cf", content.MD5())

	// Cached get (refresh=false) must not see the rewrite below until a
	// refresh=true call happens.
	path := filepath.Join(root, "public", "g1", "d1")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("a=2"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	cached, err := p.Get(ctx, "d1", "g1", "", false)
	require.NoError(t, err)
	require.Equal(t, "a=1", cached.Content())

	refreshed, err := p.Get(ctx, "d1", "g1", "", true)
	require.NoError(t, err)
	require.Equal(t, "a=2", refreshed.Content())
}

func TestFSProvider_NotFound(t *testing.T) {
	root := t.TempDir() + string(os.PathSeparator)
	p := NewFSProvider(root, 0, nil)

	_, err := p.Get(context.Background(), "missing", "g1", "", false)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestFSProvider_TenantDefaultsToPublic(t *testing.T) {
	root := t.TempDir() + string(os.PathSeparator)
	writeEntry(t, root, "public", "g1", "d1", "hello")

	p := NewFSProvider(root, 0, nil)
	content, err := p.Get(context.Background(), "d1", "g1", "", false)
	require.NoError(t, err)
	require.Equal(t, "hello", content.Content())
}
