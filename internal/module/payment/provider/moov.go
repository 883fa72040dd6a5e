package provider

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/shared/config"
	"github.com/egovpay/server/internal/utils/metrics"
)

// MoovAdapter implements Adapter for Moov Money.
type MoovAdapter struct {
	cfg     config.MoovConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*apiResult]
	session *session
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMoovAdapter creates a Moov Money adapter.
func NewMoovAdapter(cfg config.MoovConfig, client *http.Client, m *metrics.Metrics, logger *zap.Logger) *MoovAdapter {
	a := &MoovAdapter{
		cfg:     cfg,
		client:  client,
		breaker: newBreaker("moov_money"),
		metrics: m,
		logger:  logger,
	}

	var onRefresh func()
	if m != nil {
		onRefresh = func() { m.RecordTokenRefresh(a.Name()) }
	}
	a.session = newSession(a.fetchToken, 30*time.Second, onRefresh)
	return a
}

// Name returns the provider name.
func (a *MoovAdapter) Name() string {
	return "moov_money"
}

// --- Auth ---

// fetchToken obtains a bearer token using basic API credentials.
func (a *MoovAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	basic := base64.StdEncoding.EncodeToString([]byte(a.cfg.APIUser + ":" + a.cfg.APIKey))
	header := http.Header{}
	header.Set("Authorization", "Basic "+basic)

	res, err := doJSON(ctx, a.client, a.breaker, http.MethodPost, a.cfg.BaseURL+"/token", header, nil)
	if err != nil {
		return "", 0, err
	}
	if res.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("%w: token request status %d", ErrUnavailable, res.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(res.Body, &tok); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("%w: empty access token", ErrUnavailable)
	}

	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

func (a *MoovAdapter) do(ctx context.Context, method, path string, payload any) (*apiResult, error) {
	return withRetry(ctx, 3, 500*time.Millisecond, func() (*apiResult, error) {
		token, err := a.session.Token(ctx)
		if err != nil {
			return nil, err
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)

		res, err := doJSON(ctx, a.client, a.breaker, method, a.cfg.BaseURL+path, header, payload)
		if err != nil {
			return nil, err
		}
		if res.StatusCode == http.StatusUnauthorized {
			a.session.Invalidate(token)
			return nil, fmt.Errorf("%w: auth token expired", ErrUnavailable)
		}
		return res, nil
	})
}

// --- Wire types ---

type moovTxResponse struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Message       string `json:"message"`
}

// --- Operations ---

// Initiate starts a push payment request.
func (a *MoovAdapter) Initiate(ctx context.Context, req ChargeRequest) (result *ChargeResult, err error) {
	defer observeCall(a.metrics, a.Name(), "initiate", time.Now(), &err)

	msisdn, err := normalizeMoovPhone(req.Phone)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"amount":            req.Amount,
		"currency":          req.Currency,
		"reference":         req.Reference,
		"subscriber_msisdn": msisdn,
		"description":       req.Description,
		"callback_url":      req.CallbackURL,
	}

	res, err := a.do(ctx, http.MethodPost, "/api/v1/push", body)
	if err != nil {
		return nil, err
	}

	var parsed moovTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrRejected, parsed.Message)
	}

	return &ChargeResult{
		ProviderTransactionID: parsed.TransactionID,
		Status:                mapMoovStatus(parsed.Status),
		Raw:                   json.RawMessage(res.Body),
	}, nil
}

// Verify polls the authoritative transaction status.
func (a *MoovAdapter) Verify(ctx context.Context, providerTxID string) (status Status, err error) {
	defer observeCall(a.metrics, a.Name(), "verify", time.Now(), &err)

	res, err := a.do(ctx, http.MethodGet, "/api/v1/transactions/"+providerTxID, nil)
	if err != nil {
		return "", err
	}

	var parsed moovTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("query transaction %s: %s", providerTxID, parsed.Message)
	}

	return mapMoovStatus(parsed.Status), nil
}

// Refund requests a reversal of a settled charge.
func (a *MoovAdapter) Refund(ctx context.Context, req RefundRequest) (result *RefundResult, err error) {
	defer observeCall(a.metrics, a.Name(), "refund", time.Now(), &err)

	body := map[string]any{"amount": req.Amount}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}

	res, err := a.do(ctx, http.MethodPost, "/api/v1/transactions/"+req.ProviderTransactionID+"/refund", body)
	if err != nil {
		return nil, err
	}

	var parsed moovTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s", ErrRefundNotEligible, parsed.Message)
	}

	status := StatusCompleted
	if parsed.Status != "" {
		status = mapMoovStatus(parsed.Status)
	}

	return &RefundResult{
		ProviderTransactionID: parsed.TransactionID,
		Status:                status,
		Raw:                   json.RawMessage(res.Body),
	}, nil
}

// --- Webhooks ---

// SignatureHeader returns the webhook signature header.
func (a *MoovAdapter) SignatureHeader() string {
	return "X-Signature"
}

// VerifySignature checks Moov's digest: SHA-256 over body plus the shared
// secret, hex encoded. An unconfigured secret fails closed.
func (a *MoovAdapter) VerifySignature(payload []byte, signature string) bool {
	if a.cfg.WebhookSecret == "" || signature == "" {
		return false
	}

	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(a.cfg.WebhookSecret))
	expected := hex.EncodeToString(h.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

// ParseWebhook maps Moov's callback payload onto canonical fields.
func (a *MoovAdapter) ParseWebhook(payload []byte) (*WebhookNotice, error) {
	var parsed moovTxResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if parsed.TransactionID == "" && parsed.Reference == "" {
		return nil, fmt.Errorf("webhook payload missing transaction id")
	}

	return &WebhookNotice{
		TransactionID: parsed.TransactionID,
		Reference:     parsed.Reference,
		Status:        mapMoovStatus(parsed.Status),
		Amount:        parsed.Amount,
	}, nil
}

// mapMoovStatus maps Moov status strings onto the canonical enum.
func mapMoovStatus(status string) Status {
	switch strings.ToUpper(status) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED":
		return StatusCompleted
	case "FAILED", "REJECTED", "EXPIRED":
		return StatusFailed
	default:
		return StatusPending
	}
}

// normalizeMoovPhone converts a customer phone into Moov's canonical
// international format without a plus: 241 followed by the eight
// significant digits (e.g. 24160123456).
func normalizeMoovPhone(phone string) (string, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	if strings.HasPrefix(digits, "241") && len(digits) > 9 {
		digits = digits[3:]
	}
	// Drop the national trunk prefix.
	if len(digits) == 9 && digits[0] == '0' {
		digits = digits[1:]
	}
	if len(digits) != 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return "241" + digits, nil
}
