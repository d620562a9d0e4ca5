package util

import (
	"context"
	"errors"
	"time"
)

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Retry and RetryWithBackoff return it
// immediately instead of trying again. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// BackoffFunc returns the pause before the next attempt, given the zero-based
// index of the attempt that just failed and its error.
type BackoffFunc func(attempt int, err error) time.Duration

// Exponential returns a BackoffFunc that starts at base and doubles after
// every failed attempt.
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int, _ error) time.Duration {
		return base << uint(attempt)
	}
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return RetryWithBackoff(ctx, maxAttempts, Exponential(baseDelay), func(int) error {
		return fn()
	})
}

// RetryWithBackoff calls fn up to maxAttempts times, sleeping for
// backoff(attempt, err) between failures. Errors wrapped with Permanent end
// the loop at once; the wrapper is removed from the returned error.
func RetryWithBackoff(ctx context.Context, maxAttempts int, backoff BackoffFunc, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt, err)):
			}
		}
	}

	return err
}
