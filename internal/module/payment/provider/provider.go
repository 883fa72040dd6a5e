package provider

import (
	"context"
	"encoding/json"
	"errors"
)

// Status is the canonical transaction status reported by an adapter.
// Provider-specific status strings are mapped onto this closed set before
// anything leaves the adapter.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Adapter errors.
var (
	// ErrUnavailable marks a transient network or auth failure. Callers may
	// retry; it must never be translated into a failed ledger status.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrRejected marks an authoritative synchronous decline by the network.
	ErrRejected = errors.New("provider rejected transaction")

	// ErrRefundNotEligible is returned when the network reports the original
	// charge cannot be reversed.
	ErrRefundNotEligible = errors.New("transaction not eligible for refund")

	// ErrInvalidPhone is returned when a subscriber phone number cannot be
	// normalized into the provider's canonical format.
	ErrInvalidPhone = errors.New("invalid subscriber phone")
)

// ChargeRequest describes an outbound charge to a mobile money network.
type ChargeRequest struct {
	Amount      int64  // minor currency units
	Currency    string
	Reference   string // our correlation reference, echoed back in callbacks
	Phone       string // raw customer phone; adapters normalize it
	Description string
	CallbackURL string
}

// ChargeResult is the provider's synchronous answer to a charge request.
type ChargeResult struct {
	ProviderTransactionID string
	Status                Status
	Raw                   json.RawMessage // last raw payload, kept for audit
}

// RefundRequest describes a reversal of a settled charge.
type RefundRequest struct {
	ProviderTransactionID string
	Amount                int64  // minor currency units, positive
	Reason                string // optional, forwarded where the network accepts one
}

// RefundResult is the provider's answer to a reversal request.
type RefundResult struct {
	ProviderTransactionID string
	Status                Status
	Raw                   json.RawMessage
}

// WebhookNotice is an inbound notification mapped to canonical fields.
type WebhookNotice struct {
	TransactionID string
	Reference     string
	Status        Status
	Amount        int64
}

// Adapter is the contract every mobile money network integration satisfies.
type Adapter interface {
	// Name returns the provider name, which doubles as the webhook route slug.
	Name() string

	// Initiate starts a charge on the external network.
	Initiate(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// Verify polls the current authoritative status. It is side-effect free
	// and safe to repeat.
	Verify(ctx context.Context, providerTxID string) (Status, error)

	// Refund requests a reversal of a settled charge.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// VerifySignature validates an inbound webhook's authenticity.
	VerifySignature(payload []byte, signature string) bool

	// SignatureHeader returns the HTTP header the provider delivers its
	// webhook signature in.
	SignatureHeader() string

	// ParseWebhook maps a raw webhook payload to canonical fields.
	ParseWebhook(payload []byte) (*WebhookNotice, error)
}
