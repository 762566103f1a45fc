// Package retry runs an operation under a bounded attempt budget with a fixed
// delay between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy bounds how often and how quickly an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff is the fixed pause between consecutive attempts.
	Backoff time.Duration
	// OnRetry, when set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// FromBudget builds a Policy allowing retries additional attempts after the
// first one.
func FromBudget(retries int, backoff time.Duration) Policy {
	return Policy{MaxAttempts: retries + 1, Backoff: backoff}
}

// Attempts returns the effective attempt budget.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do calls fn until it succeeds or the budget is exhausted. Attempt numbers
// passed to fn start at 1. It returns the number of attempts made and the last
// error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.Attempts()
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if attempt == maxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if sleepErr := sleepWithContext(ctx, p.Backoff); sleepErr != nil {
			return attempt, fmt.Errorf("%w (retry aborted: %v)", err, sleepErr)
		}
	}
	return maxAttempts, fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err() //nolint:wrapcheck // sentinel context error
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
