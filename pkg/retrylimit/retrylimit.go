// Package retrylimit provides the two resilience primitives used when talking
// to flaky external tools: a process-wide minimum-interval limiter and a
// bounded retry loop driven by a caller-supplied error classifier.
//
// Example usage:
//
//	lim := retrylimit.NewLimiter(3500 * time.Millisecond)
//	if err := lim.Acquire(ctx); err != nil {
//	    return err
//	}
//
//	track, err := retrylimit.Do(ctx, retrylimit.Policy{
//	    MaxAttempts: 6,
//	    BaseDelay:   3500 * time.Millisecond,
//	    Step:        300 * time.Millisecond,
//	}, resolveOnce, classify)
package retrylimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Limiter
// =============================================================================

// Limiter guarantees a minimum spacing between successful acquisitions.
// Waiters are served in the order they called Acquire. Safe for concurrent use.
type Limiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewLimiter creates a Limiter that lets one caller through per interval.
// A non-positive interval disables limiting.
func NewLimiter(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Acquire blocks until the caller may proceed or ctx is done. A cancelled
// wait gives its slot back so later callers are not delayed by it.
func (l *Limiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.limiter.Wait(ctx)
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }
