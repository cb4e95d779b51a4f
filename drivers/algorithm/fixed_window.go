package algorithm

import "context"

// FixedWindow is a thin orchestrator over Backend.IncrFixed: admitted
// iff new_count <= limit.
type FixedWindow struct {
	backend Backend
}

// NewFixedWindow builds a FixedWindow orchestrator over backend.
func NewFixedWindow(backend Backend) *FixedWindow {
	return &FixedWindow{backend: backend}
}

// Allow increments the counter for key and reports whether the
// resulting count is within limit. windowStart is the facade's
// clock-aligned start of the current window when alignToClock is true,
// or 0 when it is false, in which case the backend starts a fresh
// window at the arrival time (see spec.md §9 Open Question (b)).
// nowSeconds is passed through to the backend and also used to compute
// RetryAfter when the request is denied.
func (f *FixedWindow) Allow(ctx context.Context, key string, limit, periodSeconds, windowStart, nowSeconds int64) (Outcome, error) {
	count, resetAt, err := f.backend.IncrFixed(ctx, key, periodSeconds, windowStart, nowSeconds)
	if err != nil {
		return Outcome{}, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter int64
	if count > limit {
		retryAfter = resetAt - nowSeconds
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return Outcome{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
