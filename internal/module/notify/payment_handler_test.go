package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/module/payment"
)

type staticPayments map[uuid.UUID]*payment.Payment

func (s staticPayments) GetPayment(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, ok := s[id]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return p, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func TestNotifyOnCompletedCharge(t *testing.T) {
	p := &payment.Payment{
		ID:            uuid.New(),
		Reference:     "PAY-1",
		Amount:        5000,
		Currency:      "XAF",
		Status:        payment.StatusCompleted,
		CustomerPhone: "060123456",
		CustomerEmail: "citizen@example.ga",
	}

	sender := &recordingSender{}
	handler := NewPaymentHandler(staticPayments{p.ID: p}, sender, zap.NewNop())

	require.NoError(t, handler.Handle(payment.NewCompletedEvent(p)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "060123456", msgs[0].Phone)
	assert.Contains(t, msgs[0].Text, "5000 XAF")
	assert.Contains(t, msgs[0].Text, "PAY-1")
	assert.Contains(t, msgs[0].Text, "received")
}

func TestNotifyOnCompletedRefund(t *testing.T) {
	parentID := uuid.New()
	p := &payment.Payment{
		ID:              uuid.New(),
		Reference:       "PAY-2",
		Amount:          -2500,
		Currency:        "XAF",
		Status:          payment.StatusCompleted,
		CustomerPhone:   "060123456",
		ParentPaymentID: &parentID,
	}

	sender := &recordingSender{}
	handler := NewPaymentHandler(staticPayments{p.ID: p}, sender, zap.NewNop())

	require.NoError(t, handler.Handle(payment.NewCompletedEvent(p)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "refund")
	assert.Contains(t, msgs[0].Text, "2500 XAF")
}

func TestNotifyOnFailedCharge(t *testing.T) {
	p := &payment.Payment{
		ID:            uuid.New(),
		Reference:     "PAY-3",
		Amount:        5000,
		Currency:      "XAF",
		Status:        payment.StatusFailed,
		CustomerPhone: "060123456",
	}

	sender := &recordingSender{}
	handler := NewPaymentHandler(staticPayments{p.ID: p}, sender, zap.NewNop())

	require.NoError(t, handler.Handle(payment.NewFailedEvent(p)))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "could not be completed")
}

func TestFailedRefundIsSilent(t *testing.T) {
	parentID := uuid.New()
	p := &payment.Payment{
		ID:              uuid.New(),
		Reference:       "PAY-4",
		Amount:          -2500,
		Currency:        "XAF",
		Status:          payment.StatusFailed,
		ParentPaymentID: &parentID,
	}

	sender := &recordingSender{}
	handler := NewPaymentHandler(staticPayments{p.ID: p}, sender, zap.NewNop())

	require.NoError(t, handler.Handle(payment.NewFailedEvent(p)))
	assert.Empty(t, sender.messages())
}

func TestHandlesSubscriptions(t *testing.T) {
	handler := NewPaymentHandler(staticPayments{}, &recordingSender{}, zap.NewNop())
	assert.ElementsMatch(t, []string{"payment.completed", "payment.failed"}, handler.Handles())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "5000 XAF", formatAmount(5000, "XAF"))
	assert.Equal(t, "2550 XAF", formatAmount(2550, "XAF"))
	assert.Equal(t, "0 XAF", formatAmount(0, "XAF"))
}
