package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	// 1. Missing blobs
	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	// 2. Create and read back
	w, err := store.Create(ctx, "dir/blob.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	b, err := store.Open(ctx, "dir/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(11), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(buf, 6)
	if err == io.EOF {
		err = nil
	}
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	}
	require.NoError(t, b.Close())

	// 3. List with prefix
	w, err = store.Create(ctx, "other.bin")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "dir/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/blob.bin"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/blob.bin", "other.bin"}, names)

	// 4. Delete is idempotent
	require.NoError(t, store.Delete(ctx, "dir/blob.bin"))
	require.NoError(t, store.Delete(ctx, "dir/blob.bin"))
	_, err = store.Open(ctx, "dir/blob.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}
