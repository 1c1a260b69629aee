// Package limiter rate-limits token requests per caller.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines a token bucket: RPM refill per minute, Burst capacity.
type Policy struct {
	RPM   int
	Burst int
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.RPM > 0
}

func (p Policy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		r = 1
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst < 1 {
		return 1
	}
	return p.Burst
}

// RetryAfter is the suggested wait, in whole seconds, after a denial.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store holds the buckets.
type Store interface {
	// Allow reports whether actorID may spend cost tokens now.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one rate.Limiter per actor in process memory.
// Idle actors are evicted lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	idleTTL  time.Duration
	now      func() time.Time
}

// NewMemoryStore creates an in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		visitors: make(map[string]*visitor),
		idleTTL:  3 * time.Minute,
		now:      time.Now,
	}
}

func (s *MemoryStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictIdle(now)

	v, ok := s.visitors[actorID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())}
		s.visitors[actorID] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, cost), nil
}

func (s *MemoryStore) evictIdle(now time.Time) {
	for id, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.idleTTL {
			delete(s.visitors, id)
		}
	}
}
