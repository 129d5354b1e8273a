package repository

import (
	"context"
	"time"
)

// =============================================================================
// Cache Interface (Redis)
// =============================================================================

// Cache defines the interface for caching operations.
// Implemented by Redis for multi-instance deployments and in memory otherwise.
type Cache interface {
	// Get retrieves a value by key.
	// Returns ErrCacheMiss if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with an optional TTL.
	// If ttl is 0, the value doesn't expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX sets a value only if the key doesn't exist.
	// Returns true if the value was set, false if the key already exists.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets or updates the TTL for a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining TTL for a key.
	// Returns -1 if no TTL is set, -2 if the key doesn't exist.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// LockKey generates lock keys for common scenarios.
type LockKey struct{}

// LeaseReaper returns the lock key guarding the expired-lease sweep.
// Only one instance sweeps at a time.
func (LockKey) LeaseReaper() string {
	return "lock:reaper:checkout"
}

// =============================================================================
// Common Cache Keys
// =============================================================================

// CacheKey generates cache keys for common scenarios.
type CacheKey struct{}

// Idempotency returns the cache key for a stored idempotent response.
// Keys are scoped per caller so two users can reuse the same header value.
func (CacheKey) Idempotency(callerID, key string) string {
	return "idem:" + callerID + ":" + key
}
