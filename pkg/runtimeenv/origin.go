// Package runtimeenv resolves the lifecycle API origin injected by the host.
package runtimeenv

import (
	"errors"
	"os"
	"sync"

	"github.com/Mindburn-Labs/token-sidecar/pkg/faults"
)

// RuntimeAPIEnv is the variable the host sets before the extension starts.
const RuntimeAPIEnv = "AWS_LAMBDA_RUNTIME_API"

// ErrOriginNotConfigured is returned when RuntimeAPIEnv is unset or empty.
var ErrOriginNotConfigured = errors.New(RuntimeAPIEnv + " not found in environment")

// LookupFunc reads one variable. It matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Origin memoizes the host:port of the lifecycle API.
// The first Get pays for the lookup; every caller sees the same result.
type Origin struct {
	lookup LookupFunc

	once  sync.Once
	value string
	err   error
}

// NewOrigin creates an accessor backed by lookup.
func NewOrigin(lookup LookupFunc) *Origin {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Origin{lookup: lookup}
}

// FromEnv creates an accessor reading the process environment.
func FromEnv() *Origin {
	return NewOrigin(os.LookupEnv)
}

// Get returns the origin. A missing value is a startup fault, never a default.
func (o *Origin) Get() (string, error) {
	o.once.Do(func() {
		v, ok := o.lookup(RuntimeAPIEnv)
		if !ok || v == "" {
			o.err = faults.New(faults.Startup, "resolve runtime origin", ErrOriginNotConfigured)
			return
		}
		o.value = v
	})
	return o.value, o.err
}

