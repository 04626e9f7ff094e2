// Package gateway abstracts the external payment provider. The service
// only sees authorize, capture, refund and cancel; provider retries are
// made safe by idempotency keys derived from the payment id.
package gateway

import "context"

// AuthorizeRequest asks the provider to hold funds for a payment.
type AuthorizeRequest struct {
	PaymentID string
	Amount    float64
	Currency  string
	Metadata  map[string]string
}

// AuthorizeResponse carries the provider's hold reference.
type AuthorizeResponse struct {
	ProviderRef string
	Status      string
}

// CaptureResult is the outcome of a capture attempt. Declined is a
// final provider decision; anything else failing is transport-level
// and may be retried.
type CaptureResult struct {
	Success       bool
	ProviderRef   string
	FailureReason string
}

// RefundResult carries the provider's refund reference.
type RefundResult struct {
	RefundRef string
}

// PaymentGateway is the provider capability the payment service needs.
type PaymentGateway interface {
	// Authorize creates a hold for the amount
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error)
	// Capture settles a previously authorized hold
	Capture(ctx context.Context, paymentID, providerRef string) (*CaptureResult, error)
	// Refund returns a captured amount
	Refund(ctx context.Context, paymentID, providerRef string, amount float64) (*RefundResult, error)
	// Cancel voids an uncaptured hold
	Cancel(ctx context.Context, paymentID, providerRef string) error
	// Name identifies the provider in logs and records
	Name() string
}
