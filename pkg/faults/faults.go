// Package faults classifies sidecar errors by how the process must react to them.
//
// Startup faults terminate the process, Poll faults are swallowed by the
// lifecycle loop, and Request faults become a single HTTP error response.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the reaction class of an error.
type Kind int

const (
	// Startup errors leave the sidecar half-initialized; the process exits.
	Startup Kind = iota + 1
	// Poll errors come from a failed next-event call; the loop polls again.
	Poll
	// Request errors are scoped to one inbound HTTP request.
	Request
)

func (k Kind) String() string {
	switch k {
	case Startup:
		return "startup"
	case Poll:
		return "poll"
	case Request:
		return "request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or zero if err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsFatal reports whether err must terminate the process.
func IsFatal(err error) bool {
	return KindOf(err) == Startup
}
