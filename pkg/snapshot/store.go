// Package snapshot archives the frozen material of completed contracts to
// durable object storage. A snapshot is write-once: keys derive from the
// contract id and are never overwritten with different bytes.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a write-once blob sink.
type Store interface {
	// Put persists data under key. Writing different bytes to an existing
	// key fails; writing identical bytes is an idempotent no-op.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the stored bytes for key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore implements Store on the local filesystem, content-verified via
// SHA-256. Useful for development and tests; production deployments use the
// S3 or GCS stores.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create root %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	path := s.path(key)
	if existing, err := os.ReadFile(path); err == nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("snapshot: key %s already holds different content (sha256 %s)",
			key, Digest(existing))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir for %s: %w", key, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: commit %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", key, err)
	}
	return data, nil
}

// Digest returns the SHA-256 hex digest a snapshot is addressed by.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
