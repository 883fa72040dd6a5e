package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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

// AirtelAdapter implements Adapter for Airtel Money.
type AirtelAdapter struct {
	cfg     config.AirtelConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*apiResult]
	session *session
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewAirtelAdapter creates an Airtel Money adapter.
func NewAirtelAdapter(cfg config.AirtelConfig, client *http.Client, m *metrics.Metrics, logger *zap.Logger) *AirtelAdapter {
	a := &AirtelAdapter{
		cfg:     cfg,
		client:  client,
		breaker: newBreaker("airtel_money"),
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
func (a *AirtelAdapter) Name() string {
	return "airtel_money"
}

// --- Auth ---

// fetchToken obtains an OAuth2 client-credentials token.
func (a *AirtelAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	body := map[string]string{
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	}

	res, err := doJSON(ctx, a.client, a.breaker, http.MethodPost, a.cfg.BaseURL+"/auth/oauth2/token", nil, body)
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

// do performs an authenticated API call with retry. A 401 before the tracked
// expiry invalidates the session so the retry re-authenticates.
func (a *AirtelAdapter) do(ctx context.Context, method, path string, payload any) (*apiResult, error) {
	return withRetry(ctx, 3, 500*time.Millisecond, func() (*apiResult, error) {
		token, err := a.session.Token(ctx)
		if err != nil {
			return nil, err
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		header.Set("X-Country", a.cfg.Country)
		header.Set("X-Currency", a.cfg.Currency)

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

type airtelTxResponse struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			Status        string `json:"status"`
		} `json:"transaction"`
	} `json:"data"`
	Status struct {
		Code    string `json:"code"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"status"`
}

// --- Operations ---

// Initiate starts a USSD push charge.
func (a *AirtelAdapter) Initiate(ctx context.Context, req ChargeRequest) (result *ChargeResult, err error) {
	defer observeCall(a.metrics, a.Name(), "initiate", time.Now(), &err)

	msisdn, err := normalizeAirtelPhone(req.Phone)
	if err != nil {
		return nil, err
	}

	// Airtel delivers callbacks to the URL registered on the merchant
	// application, so the charge body carries no callback field.
	body := map[string]any{
		"reference": req.Reference,
		"subscriber": map[string]string{
			"country":  a.cfg.Country,
			"currency": req.Currency,
			"msisdn":   msisdn,
		},
		"transaction": map[string]any{
			"amount":   req.Amount,
			"country":  a.cfg.Country,
			"currency": req.Currency,
			"id":       req.Reference,
		},
	}

	res, err := a.do(ctx, http.MethodPost, "/merchant/v2/payments/", body)
	if err != nil {
		return nil, err
	}

	var parsed airtelTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode charge response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest || !parsed.Status.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, parsed.Status.Message)
	}

	txID := parsed.Data.Transaction.AirtelMoneyID
	if txID == "" {
		txID = parsed.Data.Transaction.ID
	}

	return &ChargeResult{
		ProviderTransactionID: txID,
		Status:                mapAirtelStatus(parsed.Data.Transaction.Status),
		Raw:                   json.RawMessage(res.Body),
	}, nil
}

// Verify polls the authoritative transaction status.
func (a *AirtelAdapter) Verify(ctx context.Context, providerTxID string) (status Status, err error) {
	defer observeCall(a.metrics, a.Name(), "verify", time.Now(), &err)

	res, err := a.do(ctx, http.MethodGet, "/standard/v2/payments/"+providerTxID, nil)
	if err != nil {
		return "", err
	}

	var parsed airtelTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("query transaction %s: %s", providerTxID, parsed.Status.Message)
	}

	return mapAirtelStatus(parsed.Data.Transaction.Status), nil
}

// Refund requests a reversal of a settled charge. Airtel's refund API has
// no reason field; the reason stays on our ledger row only.
func (a *AirtelAdapter) Refund(ctx context.Context, req RefundRequest) (result *RefundResult, err error) {
	defer observeCall(a.metrics, a.Name(), "refund", time.Now(), &err)

	body := map[string]any{
		"transaction": map[string]any{
			"airtel_money_id": req.ProviderTransactionID,
			"amount":          req.Amount,
		},
	}

	res, err := a.do(ctx, http.MethodPost, "/standard/v2/payments/refund", body)
	if err != nil {
		return nil, err
	}

	var parsed airtelTxResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return nil, fmt.Errorf("decode refund response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest || !parsed.Status.Success {
		return nil, fmt.Errorf("%w: %s", ErrRefundNotEligible, parsed.Status.Message)
	}

	status := StatusCompleted
	if s := parsed.Data.Transaction.Status; s != "" {
		status = mapAirtelStatus(s)
	}

	return &RefundResult{
		ProviderTransactionID: parsed.Data.Transaction.AirtelMoneyID,
		Status:                status,
		Raw:                   json.RawMessage(res.Body),
	}, nil
}

// --- Webhooks ---

// SignatureHeader returns the webhook signature header.
func (a *AirtelAdapter) SignatureHeader() string {
	return "X-Auth-Signature"
}

// VerifySignature checks the keyed hash Airtel computes over the raw body.
// An unconfigured secret fails closed.
func (a *AirtelAdapter) VerifySignature(payload []byte, signature string) bool {
	if a.cfg.WebhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// ParseWebhook maps Airtel's callback payload onto canonical fields.
// Airtel echoes our reference in transaction.id and carries its own id in
// airtel_money_id.
func (a *AirtelAdapter) ParseWebhook(payload []byte) (*WebhookNotice, error) {
	var notice struct {
		Transaction struct {
			ID            string `json:"id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			StatusCode    string `json:"status_code"`
			Amount        int64  `json:"amount"`
			Message       string `json:"message"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(payload, &notice); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if notice.Transaction.ID == "" && notice.Transaction.AirtelMoneyID == "" {
		return nil, fmt.Errorf("webhook payload missing transaction id")
	}

	return &WebhookNotice{
		TransactionID: notice.Transaction.AirtelMoneyID,
		Reference:     notice.Transaction.ID,
		Status:        mapAirtelStatus(notice.Transaction.StatusCode),
		Amount:        notice.Transaction.Amount,
	}, nil
}

// mapAirtelStatus maps Airtel transaction status codes onto the canonical
// enum. TS = success, TF = failed, TIP = in progress.
func mapAirtelStatus(status string) Status {
	switch strings.ToUpper(status) {
	case "TS", "SUCCESS":
		return StatusCompleted
	case "TF", "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}

// normalizeAirtelPhone converts a customer phone into Airtel's canonical
// local format: nine digits with the leading zero kept (e.g. 060123456).
func normalizeAirtelPhone(phone string) (string, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}

	// Strip the country code if present, with or without a leading plus.
	if strings.HasPrefix(digits, "241") && len(digits) > 9 {
		digits = digits[3:]
	}
	// Local numbers without the trunk zero.
	if len(digits) == 8 {
		digits = "0" + digits
	}
	if len(digits) != 9 || digits[0] != '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return digits, nil
}

// digitsOnly strips everything but digits from a phone string.
func digitsOnly(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
