// Package filesystem stores project files on the local disk.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/storage"
)

// Backend implements storage.Backend on a directory tree.
// Writes go to a temporary file first and are renamed into place, so a
// reader never observes a partial object.
type Backend struct {
	basePath string
	tempDir  string
	logger   zerolog.Logger
}

// NewBackend creates the directory layout under basePath.
func NewBackend(basePath string, logger zerolog.Logger) (*Backend, error) {
	tempDir := filepath.Join(basePath, ".tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &Backend{
		basePath: basePath,
		tempDir:  tempDir,
		logger:   logger.With().Str("component", "filesystem-storage").Logger(),
	}, nil
}

func (b *Backend) path(key string) (string, error) {
	if !storage.ValidKey(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(b.basePath, filepath.FromSlash(key)), nil
}

// Put stores the content read from r under key.
func (b *Backend) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	dst, err := b.path(key)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(b.tempDir, "upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once renamed.
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("write object: %w", err)
	}
	if size >= 0 && n != size {
		return 0, fmt.Errorf("write object: got %d bytes, expected %d", n, size)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create shard directory: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, fmt.Errorf("move object into place: %w", err)
	}

	b.logger.Debug().Str("key", key).Int64("size", n).Msg("object stored")
	return n, nil
}

// Get opens the object stored under key.
func (b *Backend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrObjectNotFound
		}
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix removes the directory holding every object under prefix.
// Prefixes are project prefixes and therefore whole directories.
func (b *Backend) DeletePrefix(_ context.Context, prefix string) error {
	p, err := b.path(filepath.ToSlash(filepath.Clean(prefix)))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	return nil
}

// Exists checks if an object is stored under key.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat object: %w", err)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ storage.Backend = (*Backend)(nil)
