package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFetchesLazily(t *testing.T) {
	var calls atomic.Int32
	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		calls.Add(1)
		return "tok", time.Hour, nil
	}, time.Second, nil)

	assert.Equal(t, int32(0), calls.Load(), "no fetch before first use")

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, int32(1), calls.Load())

	// Cached until expiry.
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSessionSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		calls.Add(1)
		<-release
		return "tok", time.Hour, nil
	}, time.Second, nil)

	const workers = 20
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := s.Token(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// Give the goroutines time to pile onto the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers share one fetch")
	for _, tok := range results {
		assert.Equal(t, "tok", tok)
	}
}

func TestSessionRefreshesAfterExpiry(t *testing.T) {
	var calls atomic.Int32
	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		n := calls.Add(1)
		if n == 1 {
			// Lifetime below the leeway expires immediately.
			return "short", 10*time.Millisecond, nil
		}
		return "fresh", time.Hour, nil
	}, time.Second, nil)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "short", tok)

	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSessionInvalidate(t *testing.T) {
	var calls atomic.Int32
	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		calls.Add(1)
		return "tok", time.Hour, nil
	}, time.Second, nil)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)

	// Invalidating a stale token is a no-op.
	s.Invalidate("other")
	_, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Invalidating the current one forces a refetch.
	s.Invalidate(tok)
	_, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSessionFetchErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		n := calls.Add(1)
		if n == 1 {
			return "", 0, errors.New("upstream down")
		}
		return "tok", time.Hour, nil
	}, time.Second, nil)

	_, err := s.Token(context.Background())
	require.Error(t, err)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestSessionOnRefreshHook(t *testing.T) {
	var refreshes atomic.Int32
	s := newSession(func(ctx context.Context) (string, time.Duration, error) {
		return "tok", time.Hour, nil
	}, time.Second, func() { refreshes.Add(1) })

	_, err := s.Token(context.Background())
	require.NoError(t, err)
	_, err = s.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), refreshes.Load(), "hook fires only on real refreshes")
}

func TestWithRetryStopsOnAuthoritativeError(t *testing.T) {
	var calls atomic.Int32
	_, err := withRetry(context.Background(), 3, time.Millisecond, func() (string, error) {
		calls.Add(1)
		return "", ErrRejected
	})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetryRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	result, err := withRetry(context.Background(), 3, time.Millisecond, func() (string, error) {
		if calls.Add(1) < 3 {
			return "", ErrUnavailable
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	_, err := withRetry(context.Background(), 3, time.Millisecond, func() (string, error) {
		calls.Add(1)
		return "", ErrUnavailable
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetry(ctx, 3, time.Hour, func() (string, error) {
		return "", ErrUnavailable
	})
	assert.ErrorIs(t, err, context.Canceled)
}
