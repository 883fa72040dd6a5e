package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenFunc fetches a fresh auth token and its lifetime from the provider.
type tokenFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// session holds a provider auth token as explicit state: the token and its
// expiry are data, and refresh happens lazily under a single-flight guard so
// concurrent requests never trigger redundant re-authentication.
type session struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	leeway    time.Duration
	fetch     tokenFunc
	group     singleflight.Group
	onRefresh func()
}

// newSession creates a token session. leeway is subtracted from the reported
// lifetime so a token is refreshed before the provider would reject it.
// onRefresh, if non-nil, is called after every successful fetch.
func newSession(fetch tokenFunc, leeway time.Duration, onRefresh func()) *session {
	return &session{
		leeway:    leeway,
		fetch:     fetch,
		onRefresh: onRefresh,
	}
}

// Token returns a valid token, refreshing it if missing or near expiry.
func (s *session) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, valid := s.token, s.token != "" && time.Now().Before(s.expiresAt)
	s.mu.RUnlock()
	if valid {
		return token, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		// Another caller may have refreshed while we waited on the flight.
		s.mu.RLock()
		token, valid := s.token, s.token != "" && time.Now().Before(s.expiresAt)
		s.mu.RUnlock()
		if valid {
			return token, nil
		}

		fresh, expiresIn, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = fresh
		s.expiresAt = time.Now().Add(expiresIn - s.leeway)
		s.mu.Unlock()

		if s.onRefresh != nil {
			s.onRefresh()
		}
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the given token if it is still the current one.
// Called when the provider answers 401 before the tracked expiry.
func (s *session) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token {
		s.token = ""
		s.expiresAt = time.Time{}
	}
}
