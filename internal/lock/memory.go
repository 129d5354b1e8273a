package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker using in-memory locks.
// This is suitable for single-node deployments where distributed locking is not needed.
// Lockers created by NewMemoryLocker share nothing; use Owner to get another
// owner over the same lock table.
type MemoryLocker struct {
	table *lockTable
	token string
}

type lockTable struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates a new in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		table: &lockTable{locks: make(map[string]lockEntry), now: time.Now},
		token: uuid.NewString(),
	}
}

// Owner returns a locker with a distinct identity over the same lock table.
func (m *MemoryLocker) Owner() *MemoryLocker {
	return &MemoryLocker{table: m.table, token: uuid.NewString()}
}

// live returns the unexpired entry for key, dropping it if expired.
// Callers must hold the table mutex.
func (t *lockTable) live(key string) (lockEntry, bool) {
	entry, ok := t.locks[key]
	if !ok {
		return lockEntry{}, false
	}
	if !t.now().Before(entry.expiresAt) {
		delete(t.locks, key)
		return lockEntry{}, false
	}
	return entry, true
}

// Acquire attempts to acquire a lock.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, held := t.live(key); held {
		return false, nil
	}

	t.locks[key] = lockEntry{
		expiresAt: t.now().Add(ttl),
		token:     m.token,
	}
	return true, nil
}

// Release releases a lock.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.live(key)
	if !held || entry.token != m.token {
		return false, nil
	}
	delete(t.locks, key)
	return true, nil
}

// IsHeld checks if a lock is currently held.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	_, held := t.live(key)
	return held, nil
}

// Ensure MemoryLocker implements Locker.
var _ Locker = (*MemoryLocker)(nil)
