package request

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*ServiceRequest
}

func newMemRepo() *memRepo {
	return &memRepo{requests: make(map[uuid.UUID]*ServiceRequest)}
}

func (m *memRepo) Create(_ context.Context, req *ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memRepo) GetByNumber(_ context.Context, number string) (*ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.requests {
		if req.RequestNumber == number {
			cp := *req
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (m *memRepo) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]*ServiceRequest, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ServiceRequest
	for _, req := range m.requests {
		if req.UserID == userID {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) MarkPaid(_ context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != StatusAwaitingPayment {
		return false, nil
	}
	req.Status = StatusPaid
	req.PaidAt = &paidAt
	return true, nil
}

func (m *memRepo) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != StatusAwaitingPayment {
		return false, nil
	}
	req.Status = StatusCancelled
	return true, nil
}

func newTestService() (*Service, *memRepo) {
	repo := newMemRepo()
	return NewService(repo, zap.NewNop()), repo
}

func TestCreateServiceRequest(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.Create(context.Background(), CreateParams{
		UserID:      uuid.New(),
		ServiceType: "passport_renewal",
		FeeAmount:   25000,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingPayment, req.Status)
	assert.Equal(t, "XAF", req.Currency)
	assert.True(t, strings.HasPrefix(req.RequestNumber, "REQ-"), "got %s", req.RequestNumber)
	assert.True(t, req.IsPayable())
}

func TestCreateServiceRequestValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateParams{
		ServiceType: "passport_renewal", FeeAmount: 25000,
	})
	assert.Error(t, err, "missing user")

	_, err = svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), ServiceType: "  ", FeeAmount: 25000,
	})
	assert.Error(t, err, "blank service type")

	_, err = svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), ServiceType: "passport_renewal", FeeAmount: 0,
	})
	assert.Error(t, err, "zero fee")
}

func TestMarkPaidIdempotent(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), ServiceType: "passport_renewal", FeeAmount: 25000,
	})
	require.NoError(t, err)

	paidAt := time.Now()
	require.NoError(t, svc.MarkPaid(context.Background(), req.ID, paidAt))

	// Duplicate settlement notifications are absorbed.
	require.NoError(t, svc.MarkPaid(context.Background(), req.ID, paidAt.Add(time.Minute)))

	got, err := svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.WithinDuration(t, paidAt, *got.PaidAt, time.Second, "first settlement wins")
}

func TestMarkPaidCancelledRequest(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), ServiceType: "passport_renewal", FeeAmount: 25000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), req.ID))

	err = svc.MarkPaid(context.Background(), req.ID, time.Now())
	assert.ErrorIs(t, err, ErrNotPayable)
}

func TestMarkPaidUnknownRequest(t *testing.T) {
	svc, _ := newTestService()
	err := svc.MarkPaid(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestCancelPaidRequestRejected(t *testing.T) {
	svc, _ := newTestService()

	req, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(), ServiceType: "passport_renewal", FeeAmount: 25000,
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkPaid(context.Background(), req.ID, time.Now()))

	err = svc.Cancel(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrNotPayable)
}
