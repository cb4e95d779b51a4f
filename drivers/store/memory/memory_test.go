package memory

import (
	"context"
	"sync"
	"testing"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/ratelimitcore/go-ratelimiter/drivers/backenderr"
)

func TestBackend_IncrFixed_BasicCounting(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, resetAt, err := b.IncrFixed(ctx, "k", 60, 0, 0)
		if err != nil {
			t.Fatalf("IncrFixed: %v", err)
		}
		if count != i {
			t.Errorf("count = %d, want %d", count, i)
		}
		if resetAt != 60 {
			t.Errorf("resetAt = %d, want 60", resetAt)
		}
	}
}

func TestBackend_IncrFixed_Atomicity(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if _, _, err := b.IncrFixed(ctx, "hot", 60, 0, 0); err != nil {
					t.Errorf("IncrFixed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	count, _, err := b.IncrFixed(ctx, "hot", 60, 0, 0)
	if err != nil {
		t.Fatalf("IncrFixed: %v", err)
	}
	want := int64(goroutines*perGoroutine + 1)
	if count != want {
		t.Errorf("final count = %d, want %d (no lost updates)", count, want)
	}
}

func TestBackend_CheckSliding_EvictsExpired(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	ctx := context.Background()

	if _, _, admitted, err := b.CheckSliding(ctx, "k", 1000, 1, 0); err != nil || !admitted {
		t.Fatalf("first admission failed: admitted=%v err=%v", admitted, err)
	}
	if _, _, admitted, err := b.CheckSliding(ctx, "k", 1000, 1, 500); err != nil || admitted {
		t.Fatalf("expected denial within the window: admitted=%v err=%v", admitted, err)
	}
	if _, _, admitted, err := b.CheckSliding(ctx, "k", 1000, 1, 1500); err != nil || !admitted {
		t.Fatalf("expected admission after the first entry aged out: admitted=%v err=%v", admitted, err)
	}
}

func TestBackend_Peek_DoesNotMutate(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	ctx := context.Background()

	if _, _, err := b.IncrFixed(ctx, "k", 60, 0, 0); err != nil {
		t.Fatalf("IncrFixed: %v", err)
	}

	v1, _, err := b.Peek(ctx, "k", "fw")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	v2, _, err := b.Peek(ctx, "k", "fw")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if v1 != v2 {
		t.Errorf("Peek should not mutate state: %v != %v", v1, v2)
	}
	if v1 != 1 {
		t.Errorf("Peek = %v, want 1", v1)
	}
}

func TestBackend_Reset(t *testing.T) {
	b := New(Options{})
	defer b.Close()
	ctx := context.Background()

	if _, _, err := b.IncrFixed(ctx, "k", 60, 0, 0); err != nil {
		t.Fatalf("IncrFixed: %v", err)
	}
	if err := b.Reset(ctx, "k"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	count, _, err := b.IncrFixed(ctx, "k", 60, 0, 0)
	if err != nil {
		t.Fatalf("IncrFixed: %v", err)
	}
	if count != 1 {
		t.Errorf("count after reset = %d, want 1", count)
	}
}

func TestBackend_ClosedRejectsOperations(t *testing.T) {
	b := New(Options{})
	ctx := context.Background()
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, _, err := b.IncrFixed(ctx, "k", 60, 0, 0)
	if err != backenderr.Closed {
		t.Errorf("IncrFixed after Close: got %v, want backenderr.Closed", err)
	}
	if err := b.Probe(ctx); err != backenderr.Closed {
		t.Errorf("Probe after Close: got %v, want backenderr.Closed", err)
	}
}

func TestEvictLRUOverCap_DropsOldestFirst(t *testing.T) {
	cache, err := lru.NewLRU[string, *stateEntry](1<<10, nil)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	now := int64(1_000_000)
	for i, key := range []string{"a", "b", "c", "d", "e"} {
		cache.Add(key, &stateEntry{kind: kindFixed, fixedExpiresAt: now/1000 - int64(5-i)})
	}

	evictLRUOverCap(cache, 2, now, 0)

	if cache.Len() != 2 {
		t.Fatalf("Len after eviction = %d, want 2", cache.Len())
	}
	if _, ok := cache.Peek("a"); ok {
		t.Error("oldest key \"a\" should have been evicted first")
	}
	if _, ok := cache.Peek("e"); !ok {
		t.Error("newest key \"e\" should have survived eviction")
	}
}

func TestEvictLRUOverCap_ProtectsActiveWindows(t *testing.T) {
	cache, err := lru.NewLRU[string, *stateEntry](1<<10, nil)
	if err != nil {
		t.Fatalf("NewLRU: %v", err)
	}
	now := int64(1_000_000)
	minRetainMs := int64(2000)

	// "stale" already expired; "hot" expires well past min_retain.
	cache.Add("stale", &stateEntry{kind: kindFixed, fixedExpiresAt: (now - 1000) / 1000})
	cache.Add("hot", &stateEntry{kind: kindFixed, fixedExpiresAt: (now + 10_000) / 1000})

	evictLRUOverCap(cache, 1, now, minRetainMs)

	if _, ok := cache.Peek("hot"); !ok {
		t.Error("active window expiring beyond min_retain should not be evicted while another victim qualifies")
	}
	if _, ok := cache.Peek("stale"); ok {
		t.Error("expired entry should have been evicted instead")
	}
}
