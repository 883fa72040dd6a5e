package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/egovpay/server/internal/utils/metrics"
)

// apiResult carries a provider HTTP response out of the circuit breaker.
// Only transport failures and 5xx answers count as breaker failures; a 4xx
// is an authoritative answer and must not open the circuit.
type apiResult struct {
	StatusCode int
	Body       []byte
}

// doJSON performs one JSON request through the breaker. Transport errors,
// 5xx responses and breaker-open states all surface as ErrUnavailable.
func doJSON(ctx context.Context, client *http.Client, breaker *gobreaker.CircuitBreaker[*apiResult], method, url string, header http.Header, payload any) (*apiResult, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	res, err := breaker.Execute(func() (*apiResult, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
		}

		return &apiResult{StatusCode: resp.StatusCode, Body: data}, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return res, nil
}

// observeCall records the duration and outcome of one provider operation.
// Deferred at the top of each adapter operation with a pointer to its
// named error return.
func observeCall(m *metrics.Metrics, name, op string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	m.RecordProviderRequest(name, op, time.Since(start))
	if *errp != nil {
		m.RecordProviderError(name, op, errorKind(*errp))
	}
}

// errorKind buckets an adapter error for the error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected), errors.Is(err, ErrRefundNotEligible):
		return "rejected"
	case errors.Is(err, ErrInvalidPhone):
		return "invalid_phone"
	default:
		return "error"
	}
}

// newBreaker builds the circuit breaker used around a provider's API calls.
func newBreaker(name string) *gobreaker.CircuitBreaker[*apiResult] {
	return gobreaker.NewCircuitBreaker[*apiResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
