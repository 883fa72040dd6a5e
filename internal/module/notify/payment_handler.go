package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/infra/events"
	"github.com/egovpay/server/internal/module/payment"
)

// PaymentGetter loads ledger rows for notification content. Satisfied by
// the payment service.
type PaymentGetter interface {
	GetPayment(ctx context.Context, id uuid.UUID) (*payment.Payment, error)
}

// PaymentHandler turns settled and failed payments into customer
// notifications. It subscribes to the payment events published off the
// ledger's critical path.
type PaymentHandler struct {
	payments PaymentGetter
	sender   Sender
	logger   *zap.Logger
}

// NewPaymentHandler creates the payment notification handler.
func NewPaymentHandler(payments PaymentGetter, sender Sender, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, sender: sender, logger: logger}
}

// Handles returns the event types this handler subscribes to.
func (h *PaymentHandler) Handles() []string {
	return []string{payment.EventPaymentCompleted, payment.EventPaymentFailed}
}

// Handle processes a single payment event.
func (h *PaymentHandler) Handle(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	switch e := event.(type) {
	case payment.CompletedEvent:
		return h.notifyCompleted(ctx, e)
	case payment.FailedEvent:
		return h.notifyFailed(ctx, e)
	default:
		h.logger.Debug("ignoring unexpected event type",
			zap.String("event_type", event.EventType()),
		)
		return nil
	}
}

func (h *PaymentHandler) notifyCompleted(ctx context.Context, e payment.CompletedEvent) error {
	p, err := h.payments.GetPayment(ctx, e.AggregateID())
	if err != nil {
		return fmt.Errorf("load payment for notification: %w", err)
	}

	var text string
	if p.IsRefund() {
		text = fmt.Sprintf("Your refund of %s has been processed. Reference: %s",
			formatAmount(-p.Amount, p.Currency), p.Reference)
	} else {
		text = fmt.Sprintf("Your payment of %s was received. Reference: %s",
			formatAmount(p.Amount, p.Currency), p.Reference)
	}

	return h.sender.Send(ctx, Message{
		Phone: p.CustomerPhone,
		Email: p.CustomerEmail,
		Text:  text,
	})
}

func (h *PaymentHandler) notifyFailed(ctx context.Context, e payment.FailedEvent) error {
	p, err := h.payments.GetPayment(ctx, e.AggregateID())
	if err != nil {
		return fmt.Errorf("load payment for notification: %w", err)
	}

	// Failed refunds are an internal matter; only charge failures are
	// worth telling the customer about.
	if p.IsRefund() {
		return nil
	}

	return h.sender.Send(ctx, Message{
		Phone: p.CustomerPhone,
		Email: p.CustomerEmail,
		Text: fmt.Sprintf("Your payment of %s could not be completed. Reference: %s. Please try again.",
			formatAmount(p.Amount, p.Currency), p.Reference),
	})
}
