package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed snapshot store from ambient credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.prefix + key)

	if attrs, err := obj.Attrs(ctx); err == nil {
		if attrs.Metadata["digest"] == Digest(data) {
			return nil
		}
		return fmt.Errorf("snapshot: key %s already holds different content", key)
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("snapshot: gcs head %s: %w", key, err)
	}

	// DoesNotExist makes the write conditional, so two racing archivers
	// cannot both create the object.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"digest": Digest(data)}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("snapshot: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("snapshot: gcs commit %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()

	return io.ReadAll(r)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }
