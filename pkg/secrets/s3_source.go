package secrets

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectGetter is the subset of *s3.Client used here.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates a secret stored as an S3 object.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // optional, for LocalStack or MinIO
}

// S3Source reads the secret from one S3 object and caches it.
type S3Source struct {
	client objectGetter
	bucket string
	key    string
	cache  remoteCache
}

// NewS3Source builds a source using the default AWS credential chain, which
// inside Lambda resolves to the function's execution role.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, fmt.Errorf("s3 secret source requires bucket and key")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Source(client, cfg.Bucket, cfg.Key), nil
}

func newS3Source(client objectGetter, bucket, key string) *S3Source {
	return &S3Source{client: client, bucket: bucket, key: key}
}

func (s *S3Source) Secret(ctx context.Context) ([]byte, error) {
	return s.cache.get(ctx, s.fetch)
}

func (s *S3Source) fetch(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read s3 secret: %w", err)
	}
	return data, nil
}
