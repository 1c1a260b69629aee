//go:build !gcp

package secrets

import (
	"context"
	"fmt"
)

func newGCSSource(ctx context.Context, cfg GCSConfig) (Source, error) {
	return nil, fmt.Errorf("GCS secret source is not enabled in this build (use -tags gcp)")
}
