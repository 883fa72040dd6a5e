package payment

import (
	"github.com/google/uuid"

	"github.com/egovpay/server/internal/infra/events"
)

// Event types published by the orchestrator.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// CompletedEvent is published once when a row settles.
type CompletedEvent struct {
	events.BaseEvent
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Method    Method     `json:"method"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	RequestID *uuid.UUID `json:"request_id,omitempty"`
}

// NewCompletedEvent creates a settlement event for a payment.
func NewCompletedEvent(p *Payment) CompletedEvent {
	return CompletedEvent{
		BaseEvent: events.NewBaseEvent(EventPaymentCompleted, p.ID, "Payment"),
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		UserID:    p.UserID,
		RequestID: p.RequestID,
	}
}

// FailedEvent is published once when a row reaches FAILED.
type FailedEvent struct {
	events.BaseEvent
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Method    Method     `json:"method"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`
}

// NewFailedEvent creates a failure event for a payment.
func NewFailedEvent(p *Payment) FailedEvent {
	return FailedEvent{
		BaseEvent: events.NewBaseEvent(EventPaymentFailed, p.ID, "Payment"),
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Method:    p.Method,
		UserID:    p.UserID,
	}
}
