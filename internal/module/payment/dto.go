package payment

import (
	"time"

	"github.com/google/uuid"
)

// InitiateRequest is the inbound payload for starting a charge.
type InitiateRequest struct {
	Amount        int64      `json:"amount" binding:"required,gt=0"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method" binding:"required"`
	CustomerPhone string     `json:"customer_phone" binding:"required"`
	CustomerEmail string     `json:"customer_email"`
	Description   string     `json:"description"`
	RequestID     *uuid.UUID `json:"request_id"`
}

// RefundRequest is the inbound payload for reversing a charge. A zero
// amount means a full refund.
type RefundRequest struct {
	Amount int64  `json:"amount" binding:"gte=0"`
	Reason string `json:"reason"`
}

// Response is the public shape of a ledger row.
type Response struct {
	ID              uuid.UUID  `json:"id"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Method          Method     `json:"method"`
	Status          Status     `json:"status"`
	CustomerPhone   string     `json:"customer_phone,omitempty"`
	CustomerEmail   string     `json:"customer_email,omitempty"`
	Description     string     `json:"description,omitempty"`
	RequestID       *uuid.UUID `json:"request_id,omitempty"`
	ParentPaymentID *uuid.UUID `json:"parent_payment_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

// ToResponse converts a ledger row to its public shape.
func (p *Payment) ToResponse() Response {
	return Response{
		ID:              p.ID,
		Reference:       p.Reference,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Method:          p.Method,
		Status:          p.Status,
		CustomerPhone:   p.CustomerPhone,
		CustomerEmail:   p.CustomerEmail,
		Description:     p.Description,
		RequestID:       p.RequestID,
		ParentPaymentID: p.ParentPaymentID,
		CreatedAt:       p.CreatedAt,
		VerifiedAt:      p.VerifiedAt,
	}
}

// ListResponse is a paginated ledger page.
type ListResponse struct {
	Payments []Response `json:"payments"`
	Total    int64      `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
}
