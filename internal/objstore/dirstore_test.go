package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirStore(t *testing.T, files map[string]string) *DirStore {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	store, err := NewDirStore(root)
	require.NoError(t, err)
	return store
}

func TestNewDirStore_RequiresDirectory(t *testing.T) {
	_, err := NewDirStore(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = NewDirStore(file)
	assert.Error(t, err)
}

func TestDirStore_HeadSize(t *testing.T) {
	store := newTestDirStore(t, map[string]string{
		"bucket/dir/a.txt": "hello",
		"bucket/empty":     "",
	})
	ctx := context.Background()

	size, err := store.HeadSize(ctx, "bucket", "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	size, err = store.HeadSize(ctx, "bucket", "empty")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	_, err = store.HeadSize(ctx, "bucket", "dir")
	assert.ErrorIs(t, err, ErrNotFound, "directories are prefixes, not objects")

	_, err = store.HeadSize(ctx, "bucket", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.HeadSize(ctx, "bucket", "../bucket/dir/a.txt")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDirStore_FetchRange(t *testing.T) {
	store := newTestDirStore(t, map[string]string{"bucket/data": "0123456789"})
	ctx := context.Background()

	data, err := store.FetchRange(ctx, "bucket", "data", 2, 6)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	data, err = store.FetchRange(ctx, "bucket", "data", 6, 10)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(data))

	_, err = store.FetchRange(ctx, "bucket", "data", 8, 12)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = store.FetchRange(ctx, "bucket", "missing", 0, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirStore_ListPrefix(t *testing.T) {
	store := newTestDirStore(t, map[string]string{
		"bucket/a.txt":         "1",
		"bucket/a/b":           "2",
		"bucket/dir/a.txt":     "3",
		"bucket/dir/sub/c.txt": "4",
		"bucket/dirt":          "5",
	})
	ctx := context.Background()

	keys, err := store.ListPrefix(ctx, "bucket", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "a/b", "dir/a.txt", "dir/sub/c.txt", "dirt"}, keys)

	keys, err = store.ListPrefix(ctx, "bucket", "dir", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a.txt", "dir/sub/c.txt", "dirt"}, keys)

	keys, err = store.ListPrefix(ctx, "bucket", "dir/", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/a.txt"}, keys)

	keys, err = store.ListPrefix(ctx, "bucket", "zzz", 1)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = store.ListPrefix(ctx, "nobucket", "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
