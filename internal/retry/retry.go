// Package retry provides the bounded retry loops used around unreliable
// camera operations and coordination-store polling.
//
// A Policy fixes the attempt budget, the pause between attempts and what
// exhaustion means for the caller: Fatal surfaces an error wrapping
// ErrExhausted, Skip reports Outcome.Skipped and lets the caller move on.
// Both loops check the context between attempts so a shutdown never waits
// out a full backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// ErrExhausted is wrapped by the error returned when a Fatal policy runs
// out of attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Exhaustion selects what running out of attempts means.
type Exhaustion int

const (
	// Fatal returns an error on exhaustion.
	Fatal Exhaustion = iota
	// Skip returns a skipped Outcome and no error on exhaustion.
	Skip
)

// String returns the policy name used in logs.
func (e Exhaustion) String() string {
	switch e {
	case Fatal:
		return "fatal"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes one bounded retry loop.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	OnExhausted Exhaustion
	// Sleep overrides the context-aware timer, mostly for tests.
	Sleep SleepFunc
}

// Outcome summarises a finished loop.
type Outcome struct {
	Attempts int
	Skipped  bool
	LastErr  error
}

// WithExhaustion returns a copy of p using the given exhaustion mode.
func (p Policy) WithExhaustion(e Exhaustion) Policy {
	p.OnExhausted = e
	return p
}

// Do calls fn until it returns nil or the attempt budget is spent. fn
// receives the 1-based attempt number. The backoff is applied between
// attempts, never after the last one.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) (Outcome, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var out Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%w: %v", errors.ErrCanceled, err)
		}
		out.Attempts = attempt
		err := fn(attempt)
		if err == nil {
			out.LastErr = nil
			return out, nil
		}
		out.LastErr = err
		if attempt < maxAttempts && p.Backoff > 0 {
			if err := sleep(ctx, p.Backoff); err != nil {
				return out, fmt.Errorf("%w: %v", errors.ErrCanceled, err)
			}
		}
	}

	if p.OnExhausted == Skip {
		out.Skipped = true
		return out, nil
	}
	return out, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, out.Attempts, out.LastErr)
}

// Poll calls fn every interval until it reports done, returns an error, or
// timeout elapses. A timeout returns an error matching errors.ErrTimeout.
// fn is always called at least once.
func Poll(ctx context.Context, timeout, interval time.Duration, fn func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.NewTimeoutError("poll", timeout)
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := Sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrCanceled, err)
		}
	}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
