// Package retry provides the bounded retry policy applied to remote CRM calls.
//
// A Policy is an explicit value injected into the identity resolver and the
// upsert coordinator rather than hardcoded per call site. It bundles:
//   - MaxAttempts: total attempts including the first (>= 1)
//   - BaseDelay/MaxDelay: exponential backoff schedule, capped
//   - Retryable: predicate deciding which errors warrant another attempt
//   - Sleep: the wait between attempts (replaced in tests)
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/crmsync/internal/model"
)

// Default values used by DefaultPolicy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
)

// Policy describes how a remote call is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retryable reports whether err is transient. Nil means
	// model.IsRemoteUnavailable.
	Retryable func(error) bool

	// Sleep waits between attempts. Nil means a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns the policy used when none is configured: three
// attempts, 200ms doubling to at most 2s, retrying REMOTE_UNAVAILABLE only.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
// Values below 1 are clamped to 1.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n < 1 {
		n = 1
	}
	p.MaxAttempts = n
	return p
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ShouldRetry reports whether err is eligible for another attempt.
// Context cancellation is never retried.
func (p Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return model.IsRemoteUnavailable(err)
}

// Delay returns the wait before the given retry (1 = first retry).
func (p Policy) Delay(retry int) time.Duration {
	delay := p.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < retry; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Wait sleeps for the delay preceding the given retry, honouring ctx.
func (p Policy) Wait(ctx context.Context, retry int) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return sleep(ctx, p.Delay(retry))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is exhausted. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || !p.ShouldRetry(err) {
			return err
		}
		slog.Debug("retrying remote call",
			"op", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		if waitErr := p.Wait(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
	return err
}

// SleepContext waits for delay or until ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep is a Sleep implementation for tests that only honours cancellation.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
