package secrets

import (
	"context"
	"fmt"
)

// SourceType selects where the signing secret lives.
type SourceType string

const (
	SourceTypeEnv SourceType = "env"
	SourceTypeS3  SourceType = "s3"
	SourceTypeGCS SourceType = "gcs"
)

// GCSConfig locates a secret stored as a Cloud Storage object.
type GCSConfig struct {
	Bucket string
	Object string
}

// Config selects and configures a Source.
type Config struct {
	Type SourceType
	// Value is the inline secret for SourceTypeEnv.
	Value string
	S3    S3Config
	GCS   GCSConfig
}

// Insecure reports whether cfg falls back to DefaultSecret.
func (c Config) Insecure() bool {
	t := c.Type
	if t == "" {
		t = SourceTypeEnv
	}
	return t == SourceTypeEnv && (c.Value == "" || c.Value == DefaultSecret)
}

// NewSource builds the Source described by cfg. An env source with no value
// uses DefaultSecret.
func NewSource(ctx context.Context, cfg Config) (Source, error) {
	switch cfg.Type {
	case "", SourceTypeEnv:
		if cfg.Value == "" {
			return NewStatic(DefaultSecret), nil
		}
		return NewStatic(cfg.Value), nil
	case SourceTypeS3:
		return NewS3Source(ctx, cfg.S3)
	case SourceTypeGCS:
		return newGCSSource(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported secret source type: %s", cfg.Type)
	}
}
