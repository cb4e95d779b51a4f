package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ratelimitcore/go-ratelimiter/drivers/algorithm"
	"github.com/ratelimitcore/go-ratelimiter/drivers/health"
)

// Limiter is the single facade host glue talks to (spec.md §6.1): it
// owns no transport or algorithm logic itself, just the order of
// operations in Check.
type Limiter struct {
	backend   algorithm.Backend
	clock     Clock
	keyPrefix string
	monitor   *health.Monitor

	fixed   *algorithm.FixedWindow
	sliding *algorithm.SlidingWindow
	bucket  *algorithm.TokenBucket

	closeOnce sync.Once
}

// Options constructs a Limiter. Backend is required; Clock defaults
// to SystemClock; KeyPrefix defaults to "rl". Monitor may be nil when
// the caller doesn't want Health() to report anything.
type Options struct {
	Backend   algorithm.Backend
	Clock     Clock
	KeyPrefix string
	Monitor   *health.Monitor
}

// New builds a Limiter over a single already-assembled backend (which
// may itself be a multi.Backend composing several children — the
// facade doesn't care which). When Monitor is non-nil, New starts its
// probe loop in the background immediately, the same way
// drivers/store/memory's New starts its cleanup goroutine — call
// Close to stop it.
func New(opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = NewSystemClock()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "rl"
	}
	l := &Limiter{
		backend:   opts.Backend,
		clock:     opts.Clock,
		keyPrefix: opts.KeyPrefix,
		monitor:   opts.Monitor,
		fixed:     algorithm.NewFixedWindow(opts.Backend),
		sliding:   algorithm.NewSlidingWindow(opts.Backend),
		bucket:    algorithm.NewTokenBucket(opts.Backend),
	}
	if l.monitor != nil {
		go l.monitor.Start(context.Background())
	}
	return l
}

// Check is the single public entry point (spec.md §4.9): it decides
// admission for one request under policy, using key to fingerprint
// callCtx. Order of operations follows the spec exactly: skip
// predicate, fingerprint, dispatch, fail-open/fail-closed on error.
//
// The returned error is non-nil only for BAD_CONFIG conditions — a
// malformed key selector or a policy with an unknown algorithm.
// Backend errors never escape this method;
// they are folded into Decision.Reason instead.
func (l *Limiter) Check(ctx context.Context, policy Policy, key KeySpec, callCtx any) (Decision, error) {
	if policy.skipIf != nil && policy.skipIf(callCtx) {
		return Decision{
			Allowed:   true,
			Limit:     policy.effectiveLimit(),
			Remaining: policy.effectiveLimit(),
			Reason:    ReasonSkipped,
		}, nil
	}

	fingerprint, err := key.Fingerprint(callCtx)
	if err != nil {
		return Decision{}, err
	}
	storageKey := StorageKey(l.keyPrefix, policy.Algorithm, fingerprint)

	outcome, err := l.dispatch(ctx, policy, storageKey)
	if err != nil {
		if errors.Is(err, ErrBadConfig) {
			return Decision{}, err
		}
		return l.failureDecision(policy), nil
	}
	return decisionFromOutcome(policy, outcome), nil
}

func (l *Limiter) dispatch(ctx context.Context, policy Policy, storageKey string) (algorithm.Outcome, error) {
	now := l.clock.NowSeconds()
	nowMs := l.clock.NowMillis()
	periodSeconds := int64(policy.Period / time.Second)

	switch policy.Algorithm {
	case Fixed:
		windowStart := int64(0)
		if policy.AlignToClock && periodSeconds > 0 {
			windowStart = now - (now % periodSeconds)
		}
		return l.fixed.Allow(ctx, storageKey, int64(policy.Limit), periodSeconds, windowStart, now)
	case Sliding:
		return l.sliding.Allow(ctx, storageKey, int64(policy.Limit), periodSeconds, nowMs)
	case TokenBucket:
		return l.bucket.Allow(ctx, storageKey, int64(policy.BucketSize), policy.RefillRate, nowMs)
	default:
		return algorithm.Outcome{}, ErrBadConfig
	}
}

// failureDecision implements step 5 of spec.md §4.9: fail-open or
// fail-closed, never a raw backend error.
func (l *Limiter) failureDecision(policy Policy) Decision {
	limit := policy.effectiveLimit()
	if policy.FailOpen {
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			Reason:    ReasonFailOpen,
		}
	}
	return Decision{
		Allowed:   false,
		Limit:     limit,
		Remaining: 0,
		Reason:    ReasonFailClosed,
	}
}

func decisionFromOutcome(policy Policy, o algorithm.Outcome) Decision {
	reason := ReasonOK
	if !o.Allowed {
		reason = ReasonLimitExceeded
	}
	resetAt := time.Unix(o.ResetAt, 0)
	resetAfter := time.Until(resetAt)
	if resetAfter < 0 {
		resetAfter = 0
	}
	d := Decision{
		Allowed:       o.Allowed,
		Limit:         int(o.Limit),
		Remaining:     int(o.Remaining),
		ResetAt:       resetAt,
		ResetAfter:    resetAfter,
		RetryAfterSec: int(o.RetryAfter),
		Reason:        reason,
	}
	if policy.Algorithm == TokenBucket {
		d.BucketCapacity = int(o.BucketCapacity)
		d.BucketRefillRate = o.BucketRefillRate
	}
	return d
}

// effectiveLimit returns BucketSize for token-bucket policies and
// Limit otherwise, since BucketSize is what Decision.Limit means for
// that algorithm.
func (p Policy) effectiveLimit() int {
	if p.Algorithm == TokenBucket {
		return p.BucketSize
	}
	return p.Limit
}

// Reset erases all rate-limit state for the key key fingerprints to
// under policy's algorithm tag. Intended for admin/test use, not the
// request hot path.
func (l *Limiter) Reset(ctx context.Context, policy Policy, key KeySpec, callCtx any) error {
	fingerprint, err := key.Fingerprint(callCtx)
	if err != nil {
		return err
	}
	storageKey := StorageKey(l.keyPrefix, policy.Algorithm, fingerprint)
	return l.backend.Reset(ctx, storageKey)
}

// Health reports the last-known health of every backend the Limiter
// was constructed with, as tracked by its probe Monitor. Returns an
// empty map when no Monitor was configured.
func (l *Limiter) Health() map[string]health.Health {
	if l.monitor == nil {
		return map[string]health.Health{}
	}
	return l.monitor.Snapshot()
}

// Close stops the background probe loop started by New, if any. Safe
// to call more than once and safe to omit entirely when no Monitor
// was configured.
func (l *Limiter) Close() {
	if l.monitor == nil {
		return
	}
	l.closeOnce.Do(l.monitor.Stop)
}
