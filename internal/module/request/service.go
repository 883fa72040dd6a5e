package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egovpay/server/internal/utils/random"
)

// Service manages the service request lifecycle. Its MarkPaid method
// satisfies the payment module's RequestMarker.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new service request service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CreateParams carries a validated request submission.
type CreateParams struct {
	UserID      uuid.UUID
	ServiceType string
	Description string
	FeeAmount   int64
	Currency    string
}

// Create registers a new service request awaiting payment.
func (s *Service) Create(ctx context.Context, params CreateParams) (*ServiceRequest, error) {
	if params.UserID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(params.ServiceType) == "" {
		return nil, fmt.Errorf("service type is required")
	}
	if params.FeeAmount <= 0 {
		return nil, fmt.Errorf("fee amount must be positive")
	}
	currency := params.Currency
	if currency == "" {
		currency = "XAF"
	}

	req := &ServiceRequest{
		ID:            uuid.New(),
		RequestNumber: newRequestNumber(s.now()),
		UserID:        params.UserID,
		ServiceType:   params.ServiceType,
		Description:   params.Description,
		FeeAmount:     params.FeeAmount,
		Currency:      currency,
		Status:        StatusAwaitingPayment,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("service request created",
		zap.String("request_id", req.ID.String()),
		zap.String("request_number", req.RequestNumber),
		zap.String("service_type", req.ServiceType),
	)
	return req, nil
}

// Get returns one service request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ServiceRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByNumber returns one service request by tracking number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*ServiceRequest, error) {
	return s.repo.GetByNumber(ctx, number)
}

// ListByUser returns a page of the user's requests.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ServiceRequest, int64, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// MarkPaid settles a request after its payment completes. Repeated calls
// for the same request are no-ops, which absorbs duplicate settlement
// notifications from the ledger.
func (s *Service) MarkPaid(ctx context.Context, requestID uuid.UUID, paidAt time.Time) error {
	changed, err := s.repo.MarkPaid(ctx, requestID, paidAt)
	if err != nil {
		return err
	}
	if !changed {
		req, getErr := s.repo.GetByID(ctx, requestID)
		if getErr != nil {
			return getErr
		}
		if req.Status == StatusPaid {
			return nil
		}
		return fmt.Errorf("%w: status is %s", ErrNotPayable, req.Status)
	}

	s.logger.Info("service request paid",
		zap.String("request_id", requestID.String()),
		zap.Time("paid_at", paidAt),
	)
	return nil
}

// Cancel withdraws an unpaid request.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	changed, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		req, getErr := s.repo.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: status is %s", ErrNotPayable, req.Status)
	}
	return nil
}

// newRequestNumber generates a citizen-facing tracking number, e.g.
// REQ-20260901-K7Q2M9.
func newRequestNumber(now time.Time) string {
	return fmt.Sprintf("REQ-%s-%s", now.UTC().Format("20060102"), random.UpperAlphaNum(6))
}
