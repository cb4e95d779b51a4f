package algorithm

import "context"

// TokenBucket is a thin orchestrator over Backend.CheckBucket with a
// fixed cost of 1 token per request.
type TokenBucket struct {
	backend Backend
}

// NewTokenBucket builds a TokenBucket orchestrator over backend.
func NewTokenBucket(backend Backend) *TokenBucket {
	return &TokenBucket{backend: backend}
}

// Allow refills then consumes one token from the bucket for key.
func (t *TokenBucket) Allow(ctx context.Context, key string, capacity int64, refillRate float64, nowMs int64) (Outcome, error) {
	tokensAfter, resetAt, admitted, err := t.backend.CheckBucket(ctx, key, capacity, refillRate, nowMs, 1)
	if err != nil {
		return Outcome{}, err
	}

	remaining := int64(tokensAfter)
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter int64
	if !admitted {
		// Time for one more token to accumulate.
		retryAfter = int64(1.0 / refillRate)
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return Outcome{
		Allowed:          admitted,
		Limit:            capacity,
		Remaining:        remaining,
		ResetAt:          resetAt,
		RetryAfter:       retryAfter,
		BucketCapacity:   capacity,
		BucketRefillRate: refillRate,
	}, nil
}
