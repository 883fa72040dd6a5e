package provider

import (
	"context"
	"errors"
	"time"
)

// withRetry runs fn, retrying with exponential backoff while the error is
// ErrUnavailable. Authoritative answers (success, ErrRejected, parse errors)
// return immediately.
func withRetry[T any](ctx context.Context, attempts int, base time.Duration, fn func() (T, error)) (T, error) {
	var (
		result T
		err    error
	)

	delay := base
	for i := 0; i < attempts; i++ {
		result, err = fn()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return result, err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return result, err
}
