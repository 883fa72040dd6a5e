package payment

import "errors"

// Module errors.
var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrValidation         = errors.New("invalid payment request")
	ErrRefundNotEligible  = errors.New("payment not eligible for refund")
	ErrProviderNotFound   = errors.New("payment provider not found")
	ErrDuplicateReference = errors.New("payment reference already exists")

	// ErrDuplicateWebhookEvent marks a webhook delivery already recorded
	// for the same (provider, event) pair.
	ErrDuplicateWebhookEvent = errors.New("webhook event already recorded")
)
