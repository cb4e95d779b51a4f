package algorithm

import "context"

// SlidingWindow is a thin orchestrator over Backend.CheckSliding: the
// backend itself decides admission, since it must evict expired
// entries and count what remains atomically in one pass.
type SlidingWindow struct {
	backend Backend
}

// NewSlidingWindow builds a SlidingWindow orchestrator over backend.
func NewSlidingWindow(backend Backend) *SlidingWindow {
	return &SlidingWindow{backend: backend}
}

// Allow evaluates the sliding log for key at nowMs.
func (s *SlidingWindow) Allow(ctx context.Context, key string, limit, periodSeconds, nowMs int64) (Outcome, error) {
	countAfter, resetAt, admitted, err := s.backend.CheckSliding(ctx, key, periodSeconds*1000, limit, nowMs)
	if err != nil {
		return Outcome{}, err
	}

	remaining := limit - countAfter
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter int64
	if !admitted {
		retryAfter = resetAt - nowMs/1000
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return Outcome{
		Allowed:    admitted,
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}, nil
}
