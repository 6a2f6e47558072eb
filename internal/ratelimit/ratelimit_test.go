package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

func TestWait_SameKey_EnforcesMinDelay(t *testing.T) {
	limiter := NewFixedLimiter(100 * time.Millisecond)
	ctx := context.Background()

	// First call should return immediately.
	if err := limiter.Wait(ctx, "lookup"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "lookup"); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)

	// Should have waited at least ~100ms (allow 80ms for timer jitter).
	if elapsed < 80*time.Millisecond {
		t.Errorf("expected >= 80ms wait, got %v", elapsed)
	}
}

func TestWait_DifferentKeys_NoCrossBlocking(t *testing.T) {
	limiter := NewFixedLimiter(200 * time.Millisecond)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "lookup:1"); err != nil {
		t.Fatalf("org 1 wait: %v", err)
	}

	start := time.Now()
	if err := limiter.Wait(ctx, "lookup:2"); err != nil {
		t.Fatalf("org 2 wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected org 2 wait to be near-instant, got %v", elapsed)
	}
}

func TestWait_ConcurrentCallersAreSpaced(t *testing.T) {
	limiter := NewFixedLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Wait(ctx, "lookup"); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()

	// Three callers need two gaps.
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected >= 90ms for three callers, got %v", elapsed)
	}
}

func TestWait_PerKeyDelay(t *testing.T) {
	limiter := NewKeyedLimiter(func(key string) time.Duration {
		if key == "slow" {
			return 100 * time.Millisecond
		}
		return 0
	})
	ctx := context.Background()

	_ = limiter.Wait(ctx, "fast")
	start := time.Now()
	_ = limiter.Wait(ctx, "fast")
	if elapsed := time.Since(start); elapsed > 30*time.Millisecond {
		t.Errorf("zero-delay key waited %v", elapsed)
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	limiter := NewFixedLimiter(5 * time.Second) // long delay
	ctx := context.Background()

	// First call to seed the next slot.
	if err := limiter.Wait(ctx, "lookup"); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx, "lookup"); err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

type recordingLookup struct {
	called bool
}

func (r *recordingLookup) Lookup(_ context.Context, _ model.LookupQuery) (model.LookupResult, error) {
	r.called = true
	return model.LookupResult{}, nil
}

func TestRateLimitedLookup_WaitsBeforeDelegating(t *testing.T) {
	limiter := NewFixedLimiter(100 * time.Millisecond)
	inner := &recordingLookup{}
	lookup := NewRateLimitedLookup(inner, limiter, "lookup")
	ctx := context.Background()

	if _, err := lookup.Lookup(ctx, model.LookupQuery{ProfileURL: "a"}); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if !inner.called {
		t.Fatal("inner lookup was not called on first call")
	}

	inner.called = false
	start := time.Now()
	if _, err := lookup.Lookup(ctx, model.LookupQuery{ProfileURL: "b"}); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if !inner.called {
		t.Fatal("inner lookup was not called on second call")
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected >= 80ms wait on second call, got %v", elapsed)
	}
}
