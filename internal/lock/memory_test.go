package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryLocker()
	b := a.Owner()

	ok, err := a.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	released, err := b.Release(ctx, "k")
	require.NoError(t, err)
	require.False(t, released, "only the owner may release")

	held, err := b.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.True(t, held)

	released, err = a.Release(ctx, "k")
	require.NoError(t, err)
	require.True(t, released)

	ok, err = b.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewMemoryLocker()
	a.table.now = func() time.Time { return now }
	b := a.Owner()

	ok, err := a.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Second)

	held, err := a.IsHeld(ctx, "k")
	require.NoError(t, err)
	require.False(t, held)

	ok, err = b.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryLocker_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryLocker().Acquire(ctx, "k", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
