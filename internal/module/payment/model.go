package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a ledger row. Transitions are
// monotonic: PENDING is the only non-terminal state and a row never
// re-enters it.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether the status is terminal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Method identifies a mobile money network. The set is closed; adding a
// network means adding an adapter and a constant here.
type Method string

const (
	MethodAirtelMoney Method = "airtel_money"
	MethodMoovMoney   Method = "moov_money"
)

// ParseMethod validates a payment method string.
func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodAirtelMoney, MethodMoovMoney:
		return Method(s), true
	default:
		return "", false
	}
}

// Payment is one ledger row: a single charge or refund attempt. Rows are
// never deleted; failed and completed attempts are retained for audit.
type Payment struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`

	// Reference is our globally unique correlation string, generated at
	// creation and never reused, even for failed attempts.
	Reference string `json:"reference" gorm:"uniqueIndex;not null"`

	// Amount is in minor currency units; negative for refund rows.
	Amount   int64  `json:"amount" gorm:"not null"`
	Currency string `json:"currency" gorm:"not null;default:XAF"`

	Method Method `json:"method" gorm:"not null;index"`
	Status Status `json:"status" gorm:"not null;default:PENDING;index"`

	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`

	// Description carries the charge description, or the operator's
	// reason on refund rows.
	Description string `json:"description,omitempty"`

	UserID    *uuid.UUID `json:"user_id,omitempty" gorm:"type:uuid;index"`
	RequestID *uuid.UUID `json:"request_id,omitempty" gorm:"type:uuid;index"`

	ProviderTransactionID string `json:"-" gorm:"index"`

	// Raw provider payloads, stored opaquely for audit and dispute
	// resolution. Nothing downstream parses them.
	ProviderResponse string `json:"-" gorm:"type:jsonb"`
	WebhookData      string `json:"-" gorm:"type:jsonb"`

	// ParentPaymentID is set only on refund rows and points at the
	// original charge.
	ParentPaymentID *uuid.UUID `json:"parent_payment_id,omitempty" gorm:"type:uuid;index"`

	CreatedAt  time.Time  `json:"created_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "payments"
}

// IsCompleted reports whether the payment settled.
func (p *Payment) IsCompleted() bool {
	return p.Status == StatusCompleted
}

// IsRefund reports whether this row is a refund attempt.
func (p *Payment) IsRefund() bool {
	return p.ParentPaymentID != nil
}

// WebhookEvent is one stored inbound provider notification. The unique
// (provider, event_id) pair doubles as the delivery dedup guard.
type WebhookEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider      string    `gorm:"not null;uniqueIndex:idx_provider_event"`
	EventID       string    `gorm:"not null;uniqueIndex:idx_provider_event"`
	TransactionID string    `gorm:"index"`
	Reference     string    `gorm:"index"`
	Data          string    `gorm:"type:jsonb"`
	Processed     bool      `gorm:"default:false"`
	ProcessedAt   *time.Time
	Error         *string
	CreatedAt     time.Time
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "payment_webhook_events"
}
