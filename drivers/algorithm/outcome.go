package algorithm

// Outcome is what each orchestrator hands back to the Limiter facade:
// the raw admit/deny decision plus the counters spec.md §6.2 requires
// host glue to surface as headers.
type Outcome struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAt    int64 // unix seconds
	RetryAfter int64 // seconds, only meaningful when !Allowed

	// BucketCapacity/BucketRefillRate are set only by TokenBucket.
	BucketCapacity   int64
	BucketRefillRate float64
}
