// Package await polls a predicate a bounded number of times with a delay
// between attempts.
package await

import (
	"context"
	"fmt"
	"log/slog"
	"modelops/internal/apperrors"
	"modelops/pkg/backoff"
	"time"
)

// Result of an Await call.
type Result int

const (
	Timeout Result = iota
	Ready
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "timeout"
}

// Predicate reports whether the awaited condition holds.
type Predicate func(ctx context.Context) (bool, error)

// Options bounds the polling.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff overrides Delay when set.
	Backoff backoff.Func
	// Name labels log lines and attempt callbacks.
	Name string
	// OnAttempt is called after every evaluation.
	OnAttempt func(name string, attempt int, ok bool)
}

// Await evaluates pred up to MaxAttempts times. It returns Ready on the first
// true result and Timeout once the last attempt is false, without waiting
// after it. A predicate error counts as a false attempt.
//
// The wait between attempts ends early when ctx is done, in which case the
// context error is returned alongside Timeout.
func Await(ctx context.Context, pred Predicate, opts Options) (Result, error) {
	if opts.MaxAttempts < 1 {
		return Timeout, apperrors.Validation("maxAttempts", fmt.Sprintf("maxAttempts must be at least 1, got %d", opts.MaxAttempts))
	}
	delay := opts.Backoff
	if delay == nil {
		delay = backoff.Constant(opts.Delay)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Timeout, err
		}

		ok, err := pred(ctx)
		if err != nil {
			slog.Warn("Await predicate failed", "name", opts.Name, "attempt", attempt, "error", err)
			ok = false
		}
		if opts.OnAttempt != nil {
			opts.OnAttempt(opts.Name, attempt, ok)
		}
		if ok {
			return Ready, nil
		}
		if attempt >= opts.MaxAttempts {
			slog.Debug("Await exhausted", "name", opts.Name, "attempts", attempt)
			return Timeout, nil
		}

		if err := sleep(ctx, delay(attempt)); err != nil {
			return Timeout, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
