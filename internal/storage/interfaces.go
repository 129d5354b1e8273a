// Package storage defines the backends that hold checked-in project files.
// Objects are addressed by key; the repository keeps the key on each
// FileRecord so a file can be read back or removed with its project.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("object not found")

// Backend defines the interface for storage backends.
// Implementations include the local filesystem and S3-compatible stores.
type Backend interface {
	// Put stores the content read from r under key and returns the number
	// of bytes written. size is the expected length, or -1 if unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error)

	// Get opens the object stored under key. The caller must close it.
	// Returns ErrObjectNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key.
	// Returns ErrObjectNotFound if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists checks if an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
