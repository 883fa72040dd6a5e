package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is one outbound notification to a customer.
type Message struct {
	Phone string
	Email string
	Text  string
}

// Sender delivers notifications over a single channel. Implementations
// exist for SMS aggregators and SMTP relays; tests use a recording fake.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes notifications to the log instead of a real channel.
// Used in development and as the fallback when no aggregator is wired.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification dispatched",
		zap.String("phone", msg.Phone),
		zap.String("email", msg.Email),
		zap.String("text", msg.Text),
	)
	return nil
}

// formatAmount renders a ledger amount for customer messages. XAF has no
// minor unit (ISO 4217 exponent 0), so amounts are whole francs.
func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d %s", amount, currency)
}

// sendTimeout bounds one delivery attempt. Notifications ride async
// event dispatch, so there is no request context to inherit.
const sendTimeout = 10 * time.Second
