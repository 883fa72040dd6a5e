package request

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a service request. A request becomes
// payable immediately and moves to PAID exactly once, when its payment
// settles.
type Status string

const (
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusCancelled       Status = "CANCELLED"
)

// ServiceRequest is one citizen request for a government service, the
// thing a payment pays for.
type ServiceRequest struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`

	// RequestNumber is the citizen-facing tracking number.
	RequestNumber string `json:"request_number" gorm:"uniqueIndex;not null"`

	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	ServiceType string    `json:"service_type" gorm:"not null"`
	Description string    `json:"description"`

	// FeeAmount is the amount due, in minor currency units.
	FeeAmount int64  `json:"fee_amount" gorm:"not null"`
	Currency  string `json:"currency" gorm:"not null;default:XAF"`

	Status Status     `json:"status" gorm:"not null;default:AWAITING_PAYMENT;index"`
	PaidAt *time.Time `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (ServiceRequest) TableName() string {
	return "service_requests"
}

// IsPayable reports whether the request can still accept a payment.
func (r *ServiceRequest) IsPayable() bool {
	return r.Status == StatusAwaitingPayment
}
