package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Module errors.
var (
	ErrRequestNotFound = errors.New("service request not found")
	ErrNotPayable      = errors.New("service request is not awaiting payment")
)

// Repository defines the interface for service request data access.
type Repository interface {
	Create(ctx context.Context, req *ServiceRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error)
	GetByNumber(ctx context.Context, number string) (*ServiceRequest, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ServiceRequest, int64, error)

	// MarkPaid flips the request to PAID, guarded on it still awaiting
	// payment so duplicate settlement notifications are harmless.
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error)

	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new service request repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, req *ServiceRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("create service request: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	var req ServiceRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get service request: %w", err)
	}
	return &req, nil
}

func (r *repository) GetByNumber(ctx context.Context, number string) (*ServiceRequest, error) {
	var req ServiceRequest
	err := r.db.WithContext(ctx).First(&req, "request_number = ?", number).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get service request by number: %w", err)
	}
	return &req, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ServiceRequest, int64, error) {
	q := r.db.WithContext(ctx).Model(&ServiceRequest{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count service requests: %w", err)
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var reqs []*ServiceRequest
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&reqs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list service requests: %w", err)
	}
	return reqs, total, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&ServiceRequest{}).
		Where("id = ? AND status = ?", id, StatusAwaitingPayment).
		Updates(map[string]any{
			"status":     StatusPaid,
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark request paid: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&ServiceRequest{}).
		Where("id = ? AND status = ?", id, StatusAwaitingPayment).
		Update("status", StatusCancelled)
	if res.Error != nil {
		return false, fmt.Errorf("cancel request: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
