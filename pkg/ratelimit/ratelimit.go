// Package ratelimit throttles API callers. Single-instance deployments use
// the in-process per-visitor limiter; multi-instance deployments share one
// token bucket per caller through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines per-caller limits.
type Policy struct {
	PerSecond float64
	Burst     int
}

// Store abstracts the bucket storage for rate limiting.
type Store interface {
	// Allow reports whether the caller may proceed at cost tokens.
	Allow(ctx context.Context, callerID string, policy Policy, cost int) (bool, error)
}

// visitor tracks a caller's limiter and when it was last seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalStore is an in-process Store using one x/time/rate limiter per
// caller. Stale entries are evicted so abandoned callers don't leak.
type LocalStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
}

// NewLocalStore creates a LocalStore and starts its eviction loop.
func NewLocalStore() *LocalStore {
	s := &LocalStore{
		visitors: make(map[string]*visitor),
		ttl:      3 * time.Minute,
	}
	go s.evictLoop()
	return s
}

func (s *LocalStore) Allow(ctx context.Context, callerID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visitors[callerID]
	if !ok {
		limit := rate.Limit(policy.PerSecond)
		if limit <= 0 {
			limit = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		s.visitors[callerID] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.AllowN(time.Now(), cost), nil
}

func (s *LocalStore) evictLoop() {
	for {
		time.Sleep(time.Minute)
		s.mu.Lock()
		for id, v := range s.visitors {
			if time.Since(v.lastSeen) > s.ttl {
				delete(s.visitors, id)
			}
		}
		s.mu.Unlock()
	}
}
