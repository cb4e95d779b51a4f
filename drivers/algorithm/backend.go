// Package algorithm defines the Backend storage contract (spec.md
// §4.3) and the three thin orchestrators — FixedWindow, SlidingWindow,
// TokenBucket — that turn a policy into exactly one Backend call.
//
// Every Backend implementation (memory, redis, multi) MUST make each
// operation atomic with respect to concurrent callers observing the
// same key, and MUST return within a bounded timeout. Multi-backend
// does not add atomicity across its children: a failover may lose the
// most recent increments.
package algorithm

import "context"

// Backend is the storage contract every driver implements. All
// operations take a context for cancellation/deadline propagation —
// see spec.md §5 on suspension points.
type Backend interface {
	// IncrFixed atomically increments the fixed-window counter for
	// key. If absent, creates it with count=1 and a TTL of period.
	// reset_at is the current window's expiry. windowStart is the
	// clock-aligned window start the caller computed when
	// align_to_clock is true; 0 means "start a fresh window at the
	// arrival time nowSeconds".
	IncrFixed(ctx context.Context, key string, period, windowStart, nowSeconds int64) (newCount int64, resetAt int64, err error)

	// CheckSliding atomically evicts entries older than now-period,
	// counts what remains, and — if under limit — admits by inserting
	// (now_ms, nonce).
	CheckSliding(ctx context.Context, key string, periodMs int64, limit int64, nowMs int64) (countAfter int64, resetAt int64, admitted bool, err error)

	// CheckBucket atomically refills then (maybe) consumes cost
	// tokens from the bucket for key.
	CheckBucket(ctx context.Context, key string, capacity int64, refillRate float64, nowMs int64, cost int64) (tokensAfter float64, resetAt int64, admitted bool, err error)

	// Peek is a read-only inspection of key's current state for algo.
	// It MUST NOT mutate state observable to subsequent calls.
	Peek(ctx context.Context, key string, algo string) (value float64, resetAt int64, err error)

	// Reset erases all state for key.
	Reset(ctx context.Context, key string) error

	// Probe is a lightweight health check: succeeds iff the backend
	// can accept a new call right now.
	Probe(ctx context.Context) error
}
