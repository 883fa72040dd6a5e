package provider

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/shared/config"
)

func newMoovTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *MoovAdapter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter := NewMoovAdapter(config.MoovConfig{
		BaseURL:       srv.URL,
		APIUser:       "merchant",
		APIKey:        "apikey",
		WebhookSecret: "whsecret",
	}, srv.Client(), nil, zap.NewNop())
	return srv, adapter
}

func TestMoovInitiate(t *testing.T) {
	var sawBasicAuth atomic.Bool

	_, adapter := newMoovTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("merchant:apikey"))
			sawBasicAuth.Store(r.Header.Get("Authorization") == expected)
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mtok", "expires_in": 3600})
		case "/api/v1/push":
			assert.Equal(t, "Bearer mtok", r.Header.Get("Authorization"))

			var body struct {
				MSISDN      string `json:"subscriber_msisdn"`
				CallbackURL string `json:"callback_url"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "24160123456", body.MSISDN)
			assert.Equal(t, "https://pay.example/webhooks/moov_money", body.CallbackURL)

			_, _ = w.Write([]byte(`{"transaction_id": "MV-9", "status": "PENDING"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := adapter.Initiate(context.Background(), ChargeRequest{
		Amount:      2500,
		Currency:    "XAF",
		Reference:   "PAY-Y",
		Phone:       "060123456",
		CallbackURL: "https://pay.example/webhooks/moov_money",
	})
	require.NoError(t, err)
	assert.Equal(t, "MV-9", result.ProviderTransactionID)
	assert.Equal(t, StatusPending, result.Status)
	assert.True(t, sawBasicAuth.Load(), "token request should carry basic credentials")
}

func TestMoovInitiateRejected(t *testing.T) {
	_, adapter := newMoovTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mtok", "expires_in": 3600})
			return
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "unknown subscriber"}`))
	})

	_, err := adapter.Initiate(context.Background(), ChargeRequest{
		Amount: 2500, Currency: "XAF", Reference: "PAY-Y", Phone: "060123456",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMoovInitiateInvalidPhone(t *testing.T) {
	adapter := NewMoovAdapter(config.MoovConfig{}, nil, nil, zap.NewNop())

	_, err := adapter.Initiate(context.Background(), ChargeRequest{
		Amount: 2500, Currency: "XAF", Reference: "PAY-Y", Phone: "not a phone",
	})
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestMoovVerifyStatusMapping(t *testing.T) {
	var status atomic.Value
	status.Store("SUCCESS")

	_, adapter := newMoovTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mtok", "expires_in": 3600})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"transaction_id": "MV-9", "status": status.Load()})
	})

	got, err := adapter.Verify(context.Background(), "MV-9")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got)

	status.Store("EXPIRED")
	got, err = adapter.Verify(context.Background(), "MV-9")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got)

	status.Store("INITIATED")
	got, err = adapter.Verify(context.Background(), "MV-9")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got)
}

func TestMoovRefundForwardsReason(t *testing.T) {
	_, adapter := newMoovTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "mtok", "expires_in": 3600})
		case "/api/v1/transactions/MV-9/refund":
			var body struct {
				Amount int64  `json:"amount"`
				Reason string `json:"reason"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, int64(2000), body.Amount)
			assert.Equal(t, "customer dispute", body.Reason)

			_, _ = w.Write([]byte(`{"transaction_id": "MV-9R", "status": "SUCCESS"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	result, err := adapter.Refund(context.Background(), RefundRequest{
		ProviderTransactionID: "MV-9",
		Amount:                2000,
		Reason:                "customer dispute",
	})
	require.NoError(t, err)
	assert.Equal(t, "MV-9R", result.ProviderTransactionID)
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestMoovVerifySignature(t *testing.T) {
	adapter := NewMoovAdapter(config.MoovConfig{WebhookSecret: "whsecret"}, nil, nil, zap.NewNop())

	payload := []byte(`{"transaction_id": "MV-9", "status": "SUCCESS"}`)
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte("whsecret"))
	signature := hex.EncodeToString(h.Sum(nil))

	assert.True(t, adapter.VerifySignature(payload, signature))
	assert.False(t, adapter.VerifySignature(payload, "deadbeef"))
	assert.False(t, adapter.VerifySignature([]byte(`tampered`), signature))
	assert.False(t, adapter.VerifySignature(payload, ""))
}

func TestMoovParseWebhook(t *testing.T) {
	adapter := NewMoovAdapter(config.MoovConfig{}, nil, nil, zap.NewNop())

	notice, err := adapter.ParseWebhook([]byte(`{
		"transaction_id": "MV-9", "reference": "PAY-Y", "status": "FAILED", "amount": 2500
	}`))
	require.NoError(t, err)
	assert.Equal(t, "MV-9", notice.TransactionID)
	assert.Equal(t, "PAY-Y", notice.Reference)
	assert.Equal(t, StatusFailed, notice.Status)

	_, err = adapter.ParseWebhook([]byte(`{}`))
	assert.Error(t, err)
}

func TestNormalizeMoovPhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"060123456", "24160123456", false},
		{"60123456", "24160123456", false},
		{"+24160123456", "24160123456", false},
		{"241060123456", "24160123456", false},
		{"+241 60 12 34 56", "24160123456", false},
		{"", "", true},
		{"123", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeMoovPhone(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPhone, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
