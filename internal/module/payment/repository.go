package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/egovpay/server/internal/utils/metrics"
)

// Filter narrows ledger queries.
type Filter struct {
	Status Status
	Method Method
	UserID *uuid.UUID
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AggregateRow is one (method, status, charge/refund) bucket of the
// ledger. Refund rows are bucketed separately so settled reversals do not
// silently net against collected amounts.
type AggregateRow struct {
	Method Method
	Status Status
	Refund bool
	Count  int64
	Amount int64
}

// Repository defines the interface for ledger data access.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByProviderTransactionID(ctx context.Context, txID string) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	List(ctx context.Context, filter Filter) ([]*Payment, int64, error)

	// SetProviderResult records the provider transaction id and raw
	// response on a row after initiate returns.
	SetProviderResult(ctx context.Context, id uuid.UUID, txID, raw string) error

	// TransitionStatus applies a status change guarded on the row still
	// being PENDING. It reports whether a row actually changed, which is
	// what gates side effects.
	TransitionStatus(ctx context.Context, id uuid.UUID, to Status, raw string, fromWebhook bool) (bool, error)

	// SumRefunded returns the total absolute amount already claimed by
	// non-failed refund rows of the given parent.
	SumRefunded(ctx context.Context, parentID uuid.UUID) (int64, error)

	// CreateRefund inserts a refund row while holding a lock on the
	// parent, re-checking eligibility and the refundable balance so two
	// concurrent refunds cannot both claim the same remainder.
	CreateRefund(ctx context.Context, refund *Payment) error

	Aggregate(ctx context.Context, from, to time.Time, method Method) ([]AggregateRow, error)

	CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, id uuid.UUID, processErr error) error
}

type repository struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewRepository creates a new ledger repository.
func NewRepository(db *gorm.DB, m *metrics.Metrics) Repository {
	return &repository{db: db, metrics: m}
}

func (r *repository) observe(operation string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordDBQuery(operation, time.Since(start))
	}
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	defer r.observe("insert", time.Now())

	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, p.Reference)
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	defer r.observe("select", time.Now())

	var p Payment
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func (r *repository) GetByProviderTransactionID(ctx context.Context, txID string) (*Payment, error) {
	defer r.observe("select", time.Now())

	var p Payment
	err := r.db.WithContext(ctx).First(&p, "provider_transaction_id = ?", txID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by provider transaction id: %w", err)
	}
	return &p, nil
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	defer r.observe("select", time.Now())

	var p Payment
	err := r.db.WithContext(ctx).First(&p, "reference = ?", reference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by reference: %w", err)
	}
	return &p, nil
}

func (r *repository) List(ctx context.Context, filter Filter) ([]*Payment, int64, error) {
	defer r.observe("select", time.Now())

	q := r.db.WithContext(ctx).Model(&Payment{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		q = q.Where("method = ?", filter.Method)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	// Limit 0 means default page size; negative means unbounded, used by
	// the CSV export which windows with From/To instead.
	q = q.Order("created_at DESC").Offset(filter.Offset)
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 || limit > 100 {
			limit = 50
		}
		q = q.Limit(limit)
	}

	var payments []*Payment
	err := q.Find(&payments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return payments, total, nil
}

func (r *repository) SetProviderResult(ctx context.Context, id uuid.UUID, txID, raw string) error {
	defer r.observe("update", time.Now())

	updates := map[string]any{}
	if txID != "" {
		updates["provider_transaction_id"] = txID
	}
	if raw != "" {
		updates["provider_response"] = raw
	}
	if len(updates) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("set provider result: %w", err)
	}
	return nil
}

func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, to Status, raw string, fromWebhook bool) (bool, error) {
	defer r.observe("update", time.Now())

	now := time.Now()
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if to == StatusCompleted {
		updates["verified_at"] = now
	}
	if raw != "" {
		if fromWebhook {
			updates["webhook_data"] = raw
		} else {
			updates["provider_response"] = raw
		}
	}

	// The status guard makes the transition conditional: a stale PENDING
	// read can never overwrite a terminal status written by a concurrent
	// caller, and only one of two racing callers observes a change.
	res := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transition status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SumRefunded(ctx context.Context, parentID uuid.UUID) (int64, error) {
	defer r.observe("select", time.Now())

	var total int64
	err := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("parent_payment_id = ? AND status <> ?", parentID, StatusFailed).
		Select("COALESCE(SUM(-amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum refunded: %w", err)
	}
	return total, nil
}

func (r *repository) Aggregate(ctx context.Context, from, to time.Time, method Method) ([]AggregateRow, error) {
	defer r.observe("select", time.Now())

	q := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("created_at >= ? AND created_at < ?", from, to)
	if method != "" {
		q = q.Where("method = ?", method)
	}

	var rows []AggregateRow
	err := q.Select("method, status, (parent_payment_id IS NOT NULL) AS refund, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("method, status, (parent_payment_id IS NOT NULL)").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate payments: %w", err)
	}
	return rows, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *Payment) error {
	defer r.observe("insert", time.Now())

	if refund.ParentPaymentID == nil || refund.Amount >= 0 {
		return fmt.Errorf("%w: malformed refund row", ErrRefundNotEligible)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&parent, "id = ?", *refund.ParentPaymentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return fmt.Errorf("lock parent payment: %w", err)
		}

		if parent.Status != StatusCompleted || parent.IsRefund() {
			return fmt.Errorf("%w: parent status is %s", ErrRefundNotEligible, parent.Status)
		}

		var refunded int64
		err = tx.Model(&Payment{}).
			Where("parent_payment_id = ? AND status <> ?", parent.ID, StatusFailed).
			Select("COALESCE(SUM(-amount), 0)").
			Scan(&refunded).Error
		if err != nil {
			return fmt.Errorf("sum refunded: %w", err)
		}

		if -refund.Amount > parent.Amount-refunded {
			return fmt.Errorf("%w: remaining refundable balance is %d", ErrRefundNotEligible, parent.Amount-refunded)
		}

		return tx.Create(refund).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, refund.Reference)
		}
		return err
	}
	return nil
}

func (r *repository) CreateWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	defer r.observe("insert", time.Now())

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateWebhookEvent, event.Provider, event.EventID)
		}
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, id uuid.UUID, processErr error) error {
	defer r.observe("update", time.Now())

	updates := map[string]any{
		"processed":    true,
		"processed_at": time.Now(),
	}
	if processErr != nil {
		errStr := processErr.Error()
		updates["error"] = errStr
	}

	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
