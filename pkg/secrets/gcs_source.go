//go:build gcp

package secrets

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSource reads the secret from one Cloud Storage object and caches it.
type GCSSource struct {
	client *storage.Client
	bucket string
	object string
	cache  remoteCache
}

// NewGCSSource creates a source using Application Default Credentials.
func NewGCSSource(ctx context.Context, cfg GCSConfig) (*GCSSource, error) {
	if cfg.Bucket == "" || cfg.Object == "" {
		return nil, fmt.Errorf("gcs secret source requires bucket and object")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSSource{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

func (s *GCSSource) Secret(ctx context.Context) ([]byte, error) {
	return s.cache.get(ctx, func(ctx context.Context) ([]byte, error) {
		r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs read gs://%s/%s: %w", s.bucket, s.object, err)
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(io.LimitReader(r, 1<<16))
	})
}

func newGCSSource(ctx context.Context, cfg GCSConfig) (Source, error) {
	return NewGCSSource(ctx, cfg)
}
