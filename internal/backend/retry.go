package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// MaxAttempts is the default number of tries for one backend call.
const MaxAttempts = 3

// Clock is the part of time the retry loop needs. Tests pass a fake that
// records waits and fires immediately.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// RetryPolicy decides how often and how patiently a single backend call is
// retried. It never retries anything larger than the call it wraps.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
	Backoff     func(attempt int) time.Duration
	Clock       Clock
	Log         *slog.Logger
}

// DefaultRetryPolicy retries transient errors up to MaxAttempts times.
func DefaultRetryPolicy(log *slog.Logger) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: MaxAttempts,
		Retryable:   IsRetryable,
		Backoff:     Backoff,
		Clock:       RealClock(),
		Log:         log,
	}
}

// Backoff returns the wait after failed attempt n (1-indexed): a random
// 1-5s base scaled by n twice, so later attempts wait much longer.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := 1 + rand.Float64()*4
	return time.Duration(base * float64(attempt) * float64(attempt) * float64(time.Second))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. fn receives the 1-indexed attempt number.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				p.Log.Info("backend call succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !p.Retryable(lastErr) {
			p.Log.Warn("non-retryable backend error", "attempt", attempt, "error", lastErr)
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Backoff(attempt)
		p.Log.Warn("backend call failed, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error", lastErr,
		)
		select {
		case <-p.Clock.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
	p.Log.Error("backend call failed", "attempts", p.MaxAttempts, "error", lastErr)
	return fmt.Errorf("%w after %d tries: %w", ErrAttemptsExhausted, p.MaxAttempts, lastErr)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = MaxAttempts
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	if p.Backoff == nil {
		p.Backoff = Backoff
	}
	if p.Clock == nil {
		p.Clock = RealClock()
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}
	return p
}
