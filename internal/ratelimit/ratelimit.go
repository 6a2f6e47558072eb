package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// KeyedLimiter enforces a minimum delay between calls that share a key, such
// as one provider account. Each caller reserves the next free slot under the
// lock and then waits outside it, so concurrent callers are spaced out rather
// than released together.
type KeyedLimiter struct {
	mu       sync.Mutex
	next     map[string]time.Time // earliest start of the next call, per key
	minDelay func(key string) time.Duration
}

// NewKeyedLimiter creates a limiter. minDelay returns the spacing for a key.
func NewKeyedLimiter(minDelay func(key string) time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		next:     make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// NewFixedLimiter creates a limiter with the same spacing for every key.
func NewFixedLimiter(d time.Duration) *KeyedLimiter {
	return NewKeyedLimiter(func(string) time.Duration { return d })
}

// Wait blocks until the caller's reserved slot for key arrives.
// Returns an error if the context is cancelled while waiting.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.next[key]; ok && next.After(now) {
		slot = next
	}
	l.next[key] = slot.Add(l.minDelay(key))
	l.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", key, ctx.Err())
	case <-time.After(wait):
		return nil
	}
}

// Ensure RateLimitedLookup implements model.LookupProvider.
var _ model.LookupProvider = (*RateLimitedLookup)(nil)

// RateLimitedLookup is a decorator that paces calls to a lookup provider.
type RateLimitedLookup struct {
	inner   model.LookupProvider
	limiter *KeyedLimiter
	key     string
}

// NewRateLimitedLookup wraps a LookupProvider with pacing. All wrappers
// targeting the same provider account should share one limiter and key.
func NewRateLimitedLookup(inner model.LookupProvider, limiter *KeyedLimiter, key string) *RateLimitedLookup {
	return &RateLimitedLookup{
		inner:   inner,
		limiter: limiter,
		key:     key,
	}
}

// Lookup waits for the limiter, then delegates to the wrapped provider.
func (r *RateLimitedLookup) Lookup(ctx context.Context, q model.LookupQuery) (model.LookupResult, error) {
	if err := r.limiter.Wait(ctx, r.key); err != nil {
		return model.LookupResult{}, err
	}
	return r.inner.Lookup(ctx, q)
}
