// Package secrets supplies the HMAC key used to sign issued tokens.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultSecret is the fallback used when no secret is configured.
// It is public knowledge and only acceptable for demos.
const DefaultSecret = "super_secret"

// ErrEmptySecret is returned when a source resolves to zero bytes.
var ErrEmptySecret = errors.New("signing secret is empty")

// Source returns the current signing secret.
type Source interface {
	Secret(ctx context.Context) ([]byte, error)
}

// Static is a Source with a fixed value.
type Static struct {
	value []byte
}

// NewStatic returns a Source that always yields value.
func NewStatic(value string) *Static {
	return &Static{value: []byte(value)}
}

// Secret returns a copy of the value; callers may not alter the key.
func (s *Static) Secret(context.Context) ([]byte, error) {
	if len(s.value) == 0 {
		return nil, ErrEmptySecret
	}
	return bytes.Clone(s.value), nil
}

// remoteCache keeps the first successfully fetched secret.
// Failed fetches are not cached, so a later request can succeed. Concurrent
// cold callers share one fetch, made without holding mu.
type remoteCache struct {
	mu    sync.RWMutex
	value []byte
	group singleflight.Group
}

func (c *remoteCache) cached() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

func (c *remoteCache) get(ctx context.Context, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if v := c.cached(); v != nil {
		return bytes.Clone(v), nil
	}

	v, err, _ := c.group.Do("secret", func() (any, error) {
		if v := c.cached(); v != nil {
			return v, nil
		}
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			return nil, ErrEmptySecret
		}

		c.mu.Lock()
		c.value = raw
		c.mu.Unlock()
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}
