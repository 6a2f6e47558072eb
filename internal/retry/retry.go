package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/leadflow/internal/model"
)

// Ensure RetryLookup implements model.LookupProvider.
var _ model.LookupProvider = (*RetryLookup)(nil)

// RetryLookup is a decorator that retries transient lookup failures with
// exponential backoff and jitter before giving up.
type RetryLookup struct {
	inner      model.LookupProvider
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// NewRetryLookup wraps a LookupProvider with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func NewRetryLookup(inner model.LookupProvider, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *RetryLookup {
	return &RetryLookup{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Lookup delegates to the wrapped provider, retrying on transient errors.
func (r *RetryLookup) Lookup(ctx context.Context, q model.LookupQuery) (model.LookupResult, error) {
	res, err := r.inner.Lookup(ctx, q)
	if err == nil || !isRetryable(err) {
		return res, err
	}

	lastErr := err
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		delay := Backoff(r.baseDelay, attempt, lastErr)

		r.logger.Warn("retrying lookup after transient error",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return model.LookupResult{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		res, err = r.inner.Lookup(ctx, q)
		if err == nil || !isRetryable(err) {
			return res, err
		}
		lastErr = err
	}

	return model.LookupResult{}, lastErr
}

// Backoff computes the delay before retry number attempt (1-based) with ±30% jitter.
// A Retry-After carried by a provider error takes precedence.
func Backoff(base time.Duration, attempt int, err error) time.Duration {
	var pe *model.ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}

	// Exponential: base * 2^(attempt-1)
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable returns true if the error represents a transient failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation: never retry.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return model.IsTransient(err)
}
