package archive

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// BackoffFunc maps a zero-based attempt number to a wait duration.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff waits base*2^attempt plus a random jitter below the
// jitter bound.
func ExponentialBackoff(base, jitter time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		delay := base << uint(attempt)
		return delay + randomJitter(jitter)
	}
}

// LinearBackoff waits step*(attempt+1).
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return step * time.Duration(attempt+1)
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// RetryPolicy bounds an operation to MaxRetries retries after the first
// attempt, waiting Backoff(attempt) between attempts. Fetch, upload, and
// verify all share this one abstraction instead of duplicating sleep loops.
type RetryPolicy struct {
	MaxRetries int
	Backoff    BackoffFunc

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy with the given retry bound and backoff.
func NewRetryPolicy(maxRetries int, backoff BackoffFunc) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    backoff,
		sleep:      sleepContext,
	}
}

// Attempts returns the total number of attempts including the first.
func (p RetryPolicy) Attempts() int {
	return p.MaxRetries + 1
}

// Wait blocks for the backoff delay of the given attempt, or returns early
// with the context error.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, p.Backoff(attempt))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
