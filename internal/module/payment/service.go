package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/infra/events"
	"github.com/egovpay/server/internal/module/payment/provider"
	"github.com/egovpay/server/internal/utils/metrics"
)

// RequestMarker settles the service request a payment pays for. It is
// satisfied by the request module's service; the indirection keeps the
// ledger free of request internals.
type RequestMarker interface {
	MarkPaid(ctx context.Context, requestID uuid.UUID, paidAt time.Time) error
}

// InitiateParams carries a validated charge request into the orchestrator.
type InitiateParams struct {
	Amount        int64
	Currency      string
	Method        Method
	CustomerPhone string
	CustomerEmail string
	Description   string
	UserID        *uuid.UUID
	RequestID     *uuid.UUID
}

// WebhookResult is what the transport layer reports back to the provider.
// Deliveries are always acknowledged; Success only records whether the
// notification advanced the ledger.
type WebhookResult struct {
	Success   bool
	Reference string
	Message   string
}

// Service orchestrates the payment ledger against the provider adapters.
type Service struct {
	repo            Repository
	registry        *ProviderRegistry
	bus             *events.Bus
	marker          RequestMarker
	metrics         *metrics.Metrics
	logger          *zap.Logger
	callbackBaseURL string
	now             func() time.Time
}

// NewService creates the payment orchestrator. marker may be nil when the
// deployment does not link payments to service requests.
func NewService(
	repo Repository,
	registry *ProviderRegistry,
	bus *events.Bus,
	marker RequestMarker,
	m *metrics.Metrics,
	logger *zap.Logger,
	callbackBaseURL string,
) *Service {
	return &Service{
		repo:            repo,
		registry:        registry,
		bus:             bus,
		marker:          marker,
		metrics:         m,
		logger:          logger,
		callbackBaseURL: callbackBaseURL,
		now:             time.Now,
	}
}

// InitiatePayment creates a PENDING ledger row and starts the charge on
// the network. On a synchronous decline the row is finalized FAILED; on a
// transient provider failure the row stays PENDING and the error is
// surfaced so the caller can retry verification later.
func (s *Service) InitiatePayment(ctx context.Context, params InitiateParams) (*Payment, error) {
	if err := validateInitiate(params); err != nil {
		return nil, err
	}

	adapter, err := s.registry.Get(params.Method)
	if err != nil {
		return nil, err
	}

	p := &Payment{
		ID:            uuid.New(),
		Reference:     NewReference(s.now()),
		Amount:        params.Amount,
		Currency:      params.Currency,
		Method:        params.Method,
		Status:        StatusPending,
		CustomerPhone: params.CustomerPhone,
		CustomerEmail: params.CustomerEmail,
		Description:   params.Description,
		UserID:        params.UserID,
		RequestID:     params.RequestID,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	result, err := adapter.Initiate(ctx, provider.ChargeRequest{
		Amount:      p.Amount,
		Currency:    p.Currency,
		Reference:   p.Reference,
		Phone:       p.CustomerPhone,
		Description: params.Description,
		CallbackURL: s.callbackURL(adapter.Name()),
	})
	if err != nil {
		return s.finishInitiate(ctx, p, err)
	}

	if err := s.repo.SetProviderResult(ctx, p.ID, result.ProviderTransactionID, string(result.Raw)); err != nil {
		s.logger.Error("failed to record provider result",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err),
		)
	}
	p.ProviderTransactionID = result.ProviderTransactionID
	p.ProviderResponse = string(result.Raw)

	s.countInitiate(p.Method, "accepted")
	s.logger.Info("payment initiated",
		zap.String("payment_id", p.ID.String()),
		zap.String("reference", p.Reference),
		zap.String("method", string(p.Method)),
		zap.Int64("amount", p.Amount),
	)

	// Some networks settle synchronously; fold that in right away.
	if result.Status != provider.StatusPending {
		return s.ApplyStatus(ctx, p.ID, result.Status, string(result.Raw), "initiate")
	}
	return p, nil
}

// finishInitiate translates a synchronous initiate failure into ledger
// state. Declines finalize the row; transient failures leave it PENDING.
func (s *Service) finishInitiate(ctx context.Context, p *Payment, cause error) (*Payment, error) {
	switch {
	case errors.Is(cause, provider.ErrRejected):
		s.countInitiate(p.Method, "rejected")
		updated, err := s.ApplyStatus(ctx, p.ID, provider.StatusFailed, "", "initiate")
		if err != nil {
			return nil, err
		}
		return updated, fmt.Errorf("%w: %s", ErrValidation, cause)
	case errors.Is(cause, provider.ErrInvalidPhone):
		s.countInitiate(p.Method, "rejected")
		if _, err := s.ApplyStatus(ctx, p.ID, provider.StatusFailed, "", "initiate"); err != nil {
			s.logger.Error("failed to finalize rejected payment", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %s", ErrValidation, cause)
	default:
		s.countInitiate(p.Method, "unavailable")
		s.logger.Warn("provider unavailable during initiate, payment left pending",
			zap.String("payment_id", p.ID.String()),
			zap.String("method", string(p.Method)),
			zap.Error(cause),
		)
		return nil, fmt.Errorf("initiate %s payment: %w", p.Method, cause)
	}
}

// GetPayment returns one ledger row by id.
func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByReference returns one ledger row by correlation reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	return s.repo.GetByReference(ctx, reference)
}

// ListPayments returns a filtered page of the ledger and the total count.
func (s *Service) ListPayments(ctx context.Context, filter Filter) ([]*Payment, int64, error) {
	return s.repo.List(ctx, filter)
}

// VerifyPayment polls the network for the authoritative status and folds
// it into the ledger. Terminal rows short-circuit without a provider call.
func (s *Service) VerifyPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status.IsTerminal() {
		return p, nil
	}
	if p.ProviderTransactionID == "" {
		// Initiate never reached the network; nothing to poll yet.
		return p, nil
	}

	adapter, err := s.registry.Get(p.Method)
	if err != nil {
		return nil, err
	}

	status, err := adapter.Verify(ctx, p.ProviderTransactionID)
	if err != nil {
		return nil, fmt.Errorf("verify %s payment: %w", p.Method, err)
	}

	return s.ApplyStatus(ctx, p.ID, status, "", "verify")
}

// HandleWebhook processes one inbound provider notification. It never
// returns an error for bad deliveries; forged, duplicate, or unmatched
// notifications are recorded and acknowledged so providers stop retrying.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) WebhookResult {
	adapter, err := s.registry.GetByName(providerName)
	if err != nil {
		s.countWebhook(providerName, "unknown")
		return WebhookResult{Message: "unknown provider"}
	}

	if !adapter.VerifySignature(payload, signature) {
		s.countWebhook(providerName, "invalid_signature")
		s.logger.Warn("webhook signature verification failed",
			zap.String("provider", providerName),
			zap.Int("payload_bytes", len(payload)),
		)
		return WebhookResult{Message: "invalid signature"}
	}

	notice, err := adapter.ParseWebhook(payload)
	if err != nil {
		s.countWebhook(providerName, "malformed")
		s.logger.Warn("webhook payload could not be parsed",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return WebhookResult{Message: "malformed payload"}
	}

	p, err := s.lookupForWebhook(ctx, notice)
	if err != nil {
		s.countWebhook(providerName, "unknown")
		s.logger.Warn("webhook references no known payment",
			zap.String("provider", providerName),
			zap.String("transaction_id", notice.TransactionID),
			zap.String("reference", notice.Reference),
		)
		return WebhookResult{Message: "payment not found"}
	}

	event := &WebhookEvent{
		ID:            uuid.New(),
		Provider:      providerName,
		EventID:       webhookEventID(notice),
		TransactionID: notice.TransactionID,
		Reference:     p.Reference,
		Data:          string(payload),
	}
	storeErr := s.repo.CreateWebhookEvent(ctx, event)
	duplicate := false
	if storeErr != nil {
		if errors.Is(storeErr, ErrDuplicateWebhookEvent) {
			duplicate = true
			s.countWebhook(providerName, "duplicate")
		} else {
			// Storage failed; still apply the transition so the ledger is
			// not held hostage by the audit table.
			s.logger.Error("failed to record webhook event", zap.Error(storeErr))
		}
	}

	// The transition runs even for a redelivery: the first attempt may
	// have stored the audit row and then failed to apply, and the
	// conditional update makes replaying it free.
	_, applyErr := s.ApplyStatus(ctx, p.ID, notice.Status, string(payload), "webhook")
	if storeErr == nil {
		if markErr := s.repo.MarkWebhookEventProcessed(ctx, event.ID, applyErr); markErr != nil {
			s.logger.Error("failed to mark webhook event processed", zap.Error(markErr))
		}
	}
	if applyErr != nil {
		s.countWebhook(providerName, "error")
		s.logger.Error("failed to apply webhook status",
			zap.String("payment_id", p.ID.String()),
			zap.Error(applyErr),
		)
		return WebhookResult{Reference: p.Reference, Message: "processing failed"}
	}

	if duplicate {
		return WebhookResult{Success: true, Reference: p.Reference, Message: "duplicate delivery"}
	}
	s.countWebhook(providerName, "processed")
	return WebhookResult{Success: true, Reference: p.Reference, Message: "processed"}
}

// lookupForWebhook resolves a notification to a ledger row, preferring the
// provider transaction id and falling back to our reference.
func (s *Service) lookupForWebhook(ctx context.Context, notice *provider.WebhookNotice) (*Payment, error) {
	if notice.TransactionID != "" {
		p, err := s.repo.GetByProviderTransactionID(ctx, notice.TransactionID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
	}
	if notice.Reference != "" {
		return s.repo.GetByReference(ctx, notice.Reference)
	}
	return nil, ErrPaymentNotFound
}

// webhookEventID derives the dedup key for a delivery. Providers do not
// send an explicit event id, so the (transaction, status) pair stands in:
// redelivery of the same outcome is a duplicate, a later different
// outcome is a new event.
func webhookEventID(notice *provider.WebhookNotice) string {
	id := notice.TransactionID
	if id == "" {
		id = notice.Reference
	}
	return fmt.Sprintf("%s:%s", id, notice.Status)
}

// ApplyStatus folds an authoritative provider status into the ledger.
// The transition is conditional on the row still being PENDING, making
// concurrent verify and webhook paths race-safe: exactly one caller wins
// and runs the side effects, everyone else observes the settled row.
func (s *Service) ApplyStatus(ctx context.Context, id uuid.UUID, status provider.Status, raw string, source string) (*Payment, error) {
	to, ok := mapProviderStatus(status)
	if !ok {
		// Still pending on the network; nothing to fold in.
		return s.repo.GetByID(ctx, id)
	}

	changed, err := s.repo.TransitionStatus(ctx, id, to, raw, source == "webhook")
	if err != nil {
		return nil, err
	}

	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return p, nil
	}

	if s.metrics != nil {
		s.metrics.RecordStatusTransition(string(p.Method), string(to), source)
	}
	s.logger.Info("payment status transition",
		zap.String("payment_id", p.ID.String()),
		zap.String("reference", p.Reference),
		zap.String("to", string(to)),
		zap.String("source", source),
	)

	switch to {
	case StatusCompleted:
		s.settleRequest(ctx, p)
		s.bus.PublishAsync(NewCompletedEvent(p))
	case StatusFailed:
		s.bus.PublishAsync(NewFailedEvent(p))
	}
	return p, nil
}

// settleRequest marks the linked service request paid. Failures are
// logged, not surfaced: the ledger is the source of truth and the request
// row can be reconciled later.
func (s *Service) settleRequest(ctx context.Context, p *Payment) {
	if s.marker == nil || p.RequestID == nil || p.IsRefund() {
		return
	}
	paidAt := p.VerifiedAt
	if paidAt == nil {
		now := s.now()
		paidAt = &now
	}
	if err := s.marker.MarkPaid(ctx, *p.RequestID, *paidAt); err != nil {
		s.logger.Error("failed to mark service request paid",
			zap.String("payment_id", p.ID.String()),
			zap.String("request_id", p.RequestID.String()),
			zap.Error(err),
		)
	}
}

// RefundPayment reverses all or part of a settled charge. The refund is
// reserved as a PENDING ledger row under a lock on the parent before the
// network is called, so concurrent refunds cannot oversubscribe the
// original amount.
func (s *Service) RefundPayment(ctx context.Context, parentID uuid.UUID, amount int64, reason string) (*Payment, error) {
	parent, err := s.repo.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.IsRefund() {
		return nil, fmt.Errorf("%w: cannot refund a refund", ErrRefundNotEligible)
	}
	if !parent.IsCompleted() {
		return nil, fmt.Errorf("%w: payment is %s", ErrRefundNotEligible, parent.Status)
	}
	if amount <= 0 || amount > parent.Amount {
		return nil, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrValidation, parent.Amount)
	}
	if parent.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: no provider transaction to reverse", ErrRefundNotEligible)
	}

	adapter, err := s.registry.Get(parent.Method)
	if err != nil {
		return nil, err
	}

	refund := &Payment{
		ID:              uuid.New(),
		Reference:       NewReference(s.now()),
		Amount:          -amount,
		Currency:        parent.Currency,
		Method:          parent.Method,
		Status:          StatusPending,
		CustomerPhone:   parent.CustomerPhone,
		CustomerEmail:   parent.CustomerEmail,
		Description:     reason,
		UserID:          parent.UserID,
		RequestID:       parent.RequestID,
		ParentPaymentID: &parent.ID,
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	result, err := adapter.Refund(ctx, provider.RefundRequest{
		ProviderTransactionID: parent.ProviderTransactionID,
		Amount:                amount,
		Reason:                reason,
	})
	if err != nil {
		return s.finishRefund(ctx, refund, err)
	}

	if err := s.repo.SetProviderResult(ctx, refund.ID, result.ProviderTransactionID, string(result.Raw)); err != nil {
		s.logger.Error("failed to record refund provider result",
			zap.String("payment_id", refund.ID.String()),
			zap.Error(err),
		)
	}
	refund.ProviderTransactionID = result.ProviderTransactionID

	s.countRefund(refund.Method, "accepted")
	s.logger.Info("refund initiated",
		zap.String("payment_id", refund.ID.String()),
		zap.String("parent_id", parent.ID.String()),
		zap.Int64("amount", amount),
	)

	if result.Status != provider.StatusPending {
		return s.ApplyStatus(ctx, refund.ID, result.Status, string(result.Raw), "initiate")
	}
	return refund, nil
}

// finishRefund folds a synchronous refund failure into the reserved row.
// Rejections release the reservation by finalizing it FAILED; transient
// failures keep it PENDING so the claimed balance stays protected until
// the outcome is known.
func (s *Service) finishRefund(ctx context.Context, refund *Payment, cause error) (*Payment, error) {
	switch {
	case errors.Is(cause, provider.ErrRefundNotEligible), errors.Is(cause, provider.ErrRejected):
		s.countRefund(refund.Method, "rejected")
		if _, err := s.ApplyStatus(ctx, refund.ID, provider.StatusFailed, "", "initiate"); err != nil {
			s.logger.Error("failed to finalize rejected refund", zap.Error(err))
		}
		if errors.Is(cause, provider.ErrRefundNotEligible) {
			return nil, fmt.Errorf("%w: %s", ErrRefundNotEligible, cause)
		}
		return nil, fmt.Errorf("%w: %s", ErrValidation, cause)
	default:
		s.countRefund(refund.Method, "unavailable")
		s.logger.Warn("provider unavailable during refund, refund left pending",
			zap.String("payment_id", refund.ID.String()),
			zap.Error(cause),
		)
		return nil, fmt.Errorf("refund %s payment: %w", refund.Method, cause)
	}
}

func (s *Service) callbackURL(providerName string) string {
	if s.callbackBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/webhooks/%s", strings.TrimRight(s.callbackBaseURL, "/"), providerName)
}

func (s *Service) countInitiate(method Method, result string) {
	if s.metrics != nil {
		s.metrics.PaymentsInitiatedTotal.WithLabelValues(string(method), result).Inc()
	}
}

func (s *Service) countRefund(method Method, result string) {
	if s.metrics != nil {
		s.metrics.RefundsTotal.WithLabelValues(string(method), result).Inc()
	}
}

func (s *Service) countWebhook(providerName, result string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(providerName, result)
	}
}

// mapProviderStatus translates adapter statuses onto ledger statuses.
// Pending maps to nothing: only terminal outcomes move the ledger.
func mapProviderStatus(status provider.Status) (Status, bool) {
	switch status {
	case provider.StatusCompleted:
		return StatusCompleted, true
	case provider.StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

func validateInitiate(params InitiateParams) error {
	if params.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if params.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if _, ok := ParseMethod(string(params.Method)); !ok {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, params.Method)
	}
	if strings.TrimSpace(params.CustomerPhone) == "" {
		return fmt.Errorf("%w: customer phone is required", ErrValidation)
	}
	return nil
}
