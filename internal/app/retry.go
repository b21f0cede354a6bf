package app

import (
	"context"
	"time"
)

// Backoff returns the delay before the next attempt. attempt is 1-based and
// names the attempt that just failed.
type Backoff func(attempt int) time.Duration

// ExponentialBackoff doubles the delay after every failed attempt.
func ExponentialBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base << (attempt - 1)
	}
}

// Retry runs fn up to attempts times, sleeping backoff(n) between attempts.
// It returns nil on the first success, ctx.Err() if cancelled while waiting,
// and otherwise the last error from fn.
func Retry(ctx context.Context, attempts int, backoff Backoff, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; n <= attempts; n++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if n == attempts {
			break
		}
		select {
		case <-time.After(backoff(n)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
