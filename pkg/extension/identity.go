package extension

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrIdentityAlreadySet is returned by a second Set; the first value is kept.
	ErrIdentityAlreadySet = errors.New("extension identifier already set")
	// ErrNotRegistered is returned by lifecycle calls made before registration.
	ErrNotRegistered = errors.New("extension identifier not set: register first")
	// ErrEmptyIdentity rejects a blank identifier.
	ErrEmptyIdentity = errors.New("extension identifier is empty")
)

// Identity holds the identifier assigned by the lifecycle API at registration.
// It is written once and read-only afterwards.
type Identity struct {
	v atomic.Pointer[string]
}

// Set stores id. It fails instead of overwriting an existing value.
func (i *Identity) Set(id string) error {
	if id == "" {
		return ErrEmptyIdentity
	}
	if !i.v.CompareAndSwap(nil, &id) {
		return ErrIdentityAlreadySet
	}
	return nil
}

// Get returns the identifier and whether it has been set.
func (i *Identity) Get() (string, bool) {
	p := i.v.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}
