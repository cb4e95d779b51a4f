package ratelimiter

import (
	"errors"
	"testing"
	"time"
)

func TestNewPolicy_Valid(t *testing.T) {
	p, err := NewPolicy(10, time.Minute, Fixed)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if p.Limit != 10 || p.Period != time.Minute || p.Algorithm != Fixed {
		t.Errorf("unexpected policy: %+v", p)
	}
	if !p.AlignToClock {
		t.Error("expected AlignToClock to default true")
	}
}

func TestNewPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		period time.Duration
		algo   Algorithm
	}{
		{"zero limit", 0, time.Minute, Fixed},
		{"negative limit", -1, time.Minute, Fixed},
		{"sub-second period", 10, 500 * time.Millisecond, Fixed},
		{"unknown algorithm", 10, time.Minute, Algorithm("bogus")},
		{"token bucket via wrong constructor", 10, time.Minute, TokenBucket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.limit, tt.period, tt.algo)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !errors.Is(err, ErrBadConfig) {
				t.Errorf("error does not wrap ErrBadConfig: %v", err)
			}
		})
	}
}

func TestNewPolicy_Options(t *testing.T) {
	called := false
	p, err := NewPolicy(10, time.Minute, Fixed,
		WithSkipIf(func(ctx any) bool { called = true; return false }),
		WithBlockOnExceed(),
		WithFailOpen(),
	)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if !p.BlockOnExceed {
		t.Error("expected BlockOnExceed")
	}
	if !p.FailOpen {
		t.Error("expected FailOpen")
	}
	if p.skipIf == nil {
		t.Fatal("expected skipIf to be set")
	}
	p.skipIf(nil)
	if !called {
		t.Error("expected skipIf predicate to be invoked")
	}
}

func TestNewTokenBucketPolicy_Valid(t *testing.T) {
	p, err := NewTokenBucketPolicy(5, 1.0, 0)
	if err != nil {
		t.Fatalf("NewTokenBucketPolicy: %v", err)
	}
	if p.BucketSize != 5 {
		t.Errorf("expected BucketSize to default to limit (5), got %d", p.BucketSize)
	}
	if p.Algorithm != TokenBucket {
		t.Errorf("expected Algorithm TokenBucket, got %v", p.Algorithm)
	}
}

func TestNewTokenBucketPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		refillRate float64
		bucketSize int
	}{
		{"zero limit", 0, 1.0, 5},
		{"zero refill rate", 5, 0, 5},
		{"negative refill rate", 5, -1.0, 5},
		{"bucket smaller than limit", 5, 1.0, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenBucketPolicy(tt.limit, tt.refillRate, tt.bucketSize)
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !errors.Is(err, ErrBadConfig) {
				t.Errorf("error does not wrap ErrBadConfig: %v", err)
			}
		})
	}
}

func TestAlgorithm_Valid(t *testing.T) {
	for _, a := range []Algorithm{Fixed, Sliding, TokenBucket} {
		if !a.valid() {
			t.Errorf("%v should be valid", a)
		}
	}
	if Algorithm("bogus").valid() {
		t.Error("bogus algorithm should be invalid")
	}
}
