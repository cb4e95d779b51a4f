// Package multi implements the multi-backend composite from spec.md
// §4.6: an ordered list of named child backends with health-aware
// failover. It adds no cross-backend atomicity — a failover can lose
// the most recent increments in the backend it moves away from.
package multi

import (
	"context"
	"sync/atomic"

	"github.com/ratelimitcore/go-ratelimiter/drivers/algorithm"
	"github.com/ratelimitcore/go-ratelimiter/drivers/backenderr"
	"github.com/ratelimitcore/go-ratelimiter/drivers/circuit"
)

// Strategy selects how Backend picks its starting candidate on each
// call.
type Strategy string

const (
	// FirstHealthy always starts from index 0 and walks forward.
	FirstHealthy Strategy = "first_healthy"
	// RoundRobin starts from an atomically-advanced pointer. Best
	// effort: failed attempts still fall through to the remaining
	// candidates in order after the starting point.
	RoundRobin Strategy = "round_robin"
)

// Child is one named backend plus the breaker gating it.
type Child struct {
	Name    string
	Backend algorithm.Backend
	Breaker *circuit.Breaker
}

// Backend is the ordered, failover composite. It implements
// algorithm.Backend itself, so it's a drop-in replacement for any
// single backend from the Limiter facade's point of view.
type Backend struct {
	children []Child
	strategy Strategy
	rrNext   atomic.Uint64
}

// New builds a multi-backend composite over children, tried in the
// given order under FirstHealthy, or round-robin-started under
// RoundRobin.
func New(strategy Strategy, children ...Child) *Backend {
	if strategy == "" {
		strategy = FirstHealthy
	}
	return &Backend{children: children, strategy: strategy}
}

// Probers adapts each child into a health.Prober so a health.Monitor
// can probe them independent of live traffic.
func (b *Backend) Probers() []prober {
	out := make([]prober, len(b.children))
	for i, c := range b.children {
		out[i] = prober{name: c.Name, backend: c.Backend}
	}
	return out
}

// Breakers returns the breaker for every child, keyed by name, so a
// health.Monitor can be wired to update them.
func (b *Backend) Breakers() map[string]*circuit.Breaker {
	out := make(map[string]*circuit.Breaker, len(b.children))
	for _, c := range b.children {
		out[c.Name] = c.Breaker
	}
	return out
}

type prober struct {
	name    string
	backend algorithm.Backend
}

func (p prober) Name() string                         { return p.name }
func (p prober) Probe(ctx context.Context) error { return p.backend.Probe(ctx) }

// startIndex picks where the walk over children begins.
func (b *Backend) startIndex() int {
	if b.strategy != RoundRobin || len(b.children) == 0 {
		return 0
	}
	n := b.rrNext.Add(1)
	return int(n % uint64(len(b.children)))
}

// attempt runs fn against each candidate in turn (starting from
// startIndex, wrapping around under RoundRobin) until one succeeds or
// all have failed.
func attempt[T any](b *Backend, fn func(algorithm.Backend) (T, error)) (T, error) {
	var zero T
	if len(b.children) == 0 {
		return zero, backenderr.Unavailable
	}

	start := b.startIndex()
	for i := 0; i < len(b.children); i++ {
		idx := (start + i) % len(b.children)
		child := b.children[idx]

		if !child.Breaker.Allow() {
			continue
		}

		result, err := fn(child.Backend)
		if err != nil {
			weight := int64(1)
			if err == backenderr.Fatal {
				weight = 2
			}
			child.Breaker.OnFailure(weight)
			continue
		}
		child.Breaker.OnSuccess()
		return result, nil
	}
	return zero, backenderr.Unavailable
}

// IncrFixed implements algorithm.Backend.
func (b *Backend) IncrFixed(ctx context.Context, key string, period, windowStart, now int64) (int64, int64, error) {
	type result struct{ count, resetAt int64 }
	r, err := attempt(b, func(be algorithm.Backend) (result, error) {
		count, resetAt, err := be.IncrFixed(ctx, key, period, windowStart, now)
		return result{count, resetAt}, err
	})
	return r.count, r.resetAt, err
}

// CheckSliding implements algorithm.Backend.
func (b *Backend) CheckSliding(ctx context.Context, key string, periodMs, limit, nowMs int64) (int64, int64, bool, error) {
	type result struct {
		count    int64
		resetAt  int64
		admitted bool
	}
	r, err := attempt(b, func(be algorithm.Backend) (result, error) {
		count, resetAt, admitted, err := be.CheckSliding(ctx, key, periodMs, limit, nowMs)
		return result{count, resetAt, admitted}, err
	})
	return r.count, r.resetAt, r.admitted, err
}

// CheckBucket implements algorithm.Backend.
func (b *Backend) CheckBucket(ctx context.Context, key string, capacity int64, refillRate float64, nowMs, cost int64) (float64, int64, bool, error) {
	type result struct {
		tokens   float64
		resetAt  int64
		admitted bool
	}
	r, err := attempt(b, func(be algorithm.Backend) (result, error) {
		tokens, resetAt, admitted, err := be.CheckBucket(ctx, key, capacity, refillRate, nowMs, cost)
		return result{tokens, resetAt, admitted}, err
	})
	return r.tokens, r.resetAt, r.admitted, err
}

// Peek implements algorithm.Backend.
func (b *Backend) Peek(ctx context.Context, key string, algo string) (float64, int64, error) {
	type result struct {
		value   float64
		resetAt int64
	}
	r, err := attempt(b, func(be algorithm.Backend) (result, error) {
		value, resetAt, err := be.Peek(ctx, key, algo)
		return result{value, resetAt}, err
	})
	return r.value, r.resetAt, err
}

// Reset implements algorithm.Backend: resets the key on every child,
// not just the one that would currently serve it, since a prior
// failover may have left state behind on a backend that's no longer
// primary.
func (b *Backend) Reset(ctx context.Context, key string) error {
	var firstErr error
	for _, c := range b.children {
		if err := c.Backend.Reset(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Probe implements algorithm.Backend: healthy iff at least one child
// is.
func (b *Backend) Probe(ctx context.Context) error {
	_, err := attempt(b, func(be algorithm.Backend) (struct{}, error) {
		return struct{}{}, be.Probe(ctx)
	})
	return err
}

var _ algorithm.Backend = (*Backend)(nil)
