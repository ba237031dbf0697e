package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// Classification
// =============================================================================

// Class tells the retry loop what to do with a failed attempt.
type Class int

const (
	// Fatal stops immediately and reports the original error.
	Fatal Class = iota
	// Busy is transient contention on the external tool; retried with backoff.
	Busy
	// AuthRequired means the source wants credentials we cannot supply.
	AuthRequired
	// Cancelled means an interrupt fired; this is a normal early exit.
	Cancelled
)

func (c Class) String() string {
	switch c {
	case Busy:
		return "busy"
	case AuthRequired:
		return "auth_required"
	case Cancelled:
		return "cancelled"
	default:
		return "fatal"
	}
}

// Classifier maps an operation error to a Class.
type Classifier func(error) Class

// =============================================================================
// Errors
// =============================================================================

// Reason is the terminal outcome of a failed Do call.
type Reason string

const (
	ReasonExhausted    Reason = "retries_exhausted"
	ReasonAuthRequired Reason = "auth_required"
	ReasonCancelled    Reason = "cancelled"
	ReasonFatal        Reason = "fatal"
)

// ErrExhausted is matched by errors.Is for every Error with ReasonExhausted.
var ErrExhausted = errors.New("maximum retries reached (external tool busy)")

// Error is returned by Do when the operation did not succeed.
type Error struct {
	Reason   Reason
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Reason == ReasonExhausted {
		if e.Err != nil {
			return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted.Error(), e.Attempts, e.Err)
		}
		return ErrExhausted.Error()
	}
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExhausted) match exhausted results.
func (e *Error) Is(target error) bool {
	return target == ErrExhausted && e.Reason == ReasonExhausted
}

// ReasonOf extracts the terminal reason from err, or "" when err is not an *Error.
func ReasonOf(err error) Reason {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// =============================================================================
// Retry
// =============================================================================

// Policy configures Do.
type Policy struct {
	MaxAttempts int           // total attempts including the first (minimum 1)
	BaseDelay   time.Duration // sleep after the first busy failure
	Step        time.Duration // added per further attempt: BaseDelay + attempt*Step
	Limiter     *Limiter      // optional gate acquired before every attempt
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// Backoff returns the sleep after the zero-based attempt failed as busy.
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay + time.Duration(attempt)*p.Step
}

// Do runs op until it succeeds, the classifier says stop, or MaxAttempts is
// reached. Only Busy failures are retried. A done ctx ends the loop with
// ReasonCancelled.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), classify Classifier) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if classify == nil {
		classify = func(error) Class { return Fatal }
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &Error{Reason: ReasonCancelled, Attempts: attempt, Err: context.Cause(ctx)}
		}

		if p.Limiter != nil {
			if err := p.Limiter.Acquire(ctx); err != nil {
				return zero, &Error{Reason: ReasonCancelled, Attempts: attempt, Err: context.Cause(ctx)}
			}
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug().Str("component", "retry").Int("attempts", attempt+1).Msg("Operation succeeded after retries")
			}
			return result, nil
		}
		lastErr = err

		switch classify(err) {
		case AuthRequired:
			return zero, &Error{Reason: ReasonAuthRequired, Attempts: attempt + 1, Err: err}
		case Cancelled:
			return zero, &Error{Reason: ReasonCancelled, Attempts: attempt + 1, Err: err}
		case Fatal:
			return zero, &Error{Reason: ReasonFatal, Attempts: attempt + 1, Err: err}
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}
		log.Warn().Str("component", "retry").Int("attempt", attempt+1).Dur("wait", wait).Err(err).Msg("External tool busy, backing off")

		if err := Sleep(ctx, wait); err != nil {
			return zero, &Error{Reason: ReasonCancelled, Attempts: attempt + 1, Err: context.Cause(ctx)}
		}
	}

	return zero, &Error{Reason: ReasonExhausted, Attempts: p.MaxAttempts, Err: lastErr}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
