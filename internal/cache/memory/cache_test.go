package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(clock.Now, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	_, err := c.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	value := []byte("hello")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'j'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)

	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)

	ttl, err = c.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, time.Duration(-2), ttl)
}

func TestCache_SetNX(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	ok, err := c.SetNX(ctx, "k", []byte("first"), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetNX(ctx, "k", []byte("second"), time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	clock.Advance(2 * time.Second)

	ok, err = c.SetNX(ctx, "k", []byte("third"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "third", string(got))
}

func TestCache_ExpireAndDelete(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, c.Expire(ctx, "k", time.Second))
	clock.Advance(time.Second)
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCache_Sweep(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Hour))

	clock.Advance(time.Minute)
	c.sweep()

	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Len(t, c.entries, 1)
	require.Contains(t, c.entries, "long")
}
