package filesystem

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/storage"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	key := storage.ComputeDefaultKey("p1", "abcdef12-0000")

	n, err := b.Put(ctx, key, strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	exists, err := b.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := b.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))

	require.NoError(t, b.Delete(ctx, key))
	assert.ErrorIs(t, b.Delete(ctx, key), storage.ErrObjectNotFound)

	_, err = b.Get(ctx, key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestBackend_PutRejectsShortWrite(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	_, err := b.Put(ctx, "p1/f", strings.NewReader("abc"), 10)
	require.Error(t, err)

	exists, err := b.Exists(ctx, "p1/f")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackend_PutCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newTestBackend(t)
	_, err := b.Put(ctx, "p1/f", strings.NewReader("abc"), -1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackend_InvalidKey(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Put(context.Background(), "../escape", strings.NewReader("x"), 1)
	require.Error(t, err)
}

func TestBackend_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	k1 := storage.ComputeDefaultKey("p1", "aaaa1111")
	k2 := storage.ComputeDefaultKey("p2", "bbbb2222")
	for _, k := range []string{k1, k2} {
		_, err := b.Put(ctx, k, strings.NewReader("x"), 1)
		require.NoError(t, err)
	}

	require.NoError(t, b.DeletePrefix(ctx, storage.ProjectPrefix("p1")))

	exists, err := b.Exists(ctx, k1)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = b.Exists(ctx, k2)
	require.NoError(t, err)
	assert.True(t, exists)
}
