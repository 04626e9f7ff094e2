package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

// StripeGateway implements PaymentGateway using Stripe payment intents
// with manual capture: Authorize creates the intent, Capture settles
// it. Idempotency keys are derived from the payment id so provider
// retries cannot double-charge.
type StripeGateway struct {
	config *StripeConfig
}

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	SecretKey   string
	Environment string // "test" or "live"
}

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}

	// Set Stripe API key globally
	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// Authorize creates a manual-capture payment intent holding the amount.
func (g *StripeGateway) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("authorize request is required")
	}

	// Stripe expects the smallest currency unit.
	amountInCents := int64(req.Amount * 100)

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountInCents),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{"payment_id": req.PaymentID},
	}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	params.IdempotencyKey = stripe.String(req.PaymentID + ":authorize")

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &AuthorizeResponse{
		ProviderRef: pi.ID,
		Status:      string(pi.Status),
	}, nil
}

// Capture settles the hold. A canceled intent is a final decline, not
// a transport failure.
func (g *StripeGateway) Capture(ctx context.Context, paymentID, providerRef string) (*CaptureResult, error) {
	if providerRef == "" {
		return nil, fmt.Errorf("provider reference is required")
	}

	params := &stripe.PaymentIntentCaptureParams{}
	params.IdempotencyKey = stripe.String(paymentID + ":capture")

	pi, err := paymentintent.Capture(providerRef, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			return &CaptureResult{
				Success:       false,
				ProviderRef:   providerRef,
				FailureReason: string(stripeErr.Code),
			}, nil
		}
		return nil, fmt.Errorf("failed to capture payment intent: %w", err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &CaptureResult{Success: true, ProviderRef: pi.ID}, nil
	case stripe.PaymentIntentStatusCanceled:
		return &CaptureResult{
			Success:       false,
			ProviderRef:   pi.ID,
			FailureReason: "intent_canceled",
		}, nil
	default:
		return &CaptureResult{
			Success:       false,
			ProviderRef:   pi.ID,
			FailureReason: fmt.Sprintf("unexpected status: %s", pi.Status),
		}, nil
	}
}

// Refund returns the captured amount to the customer.
func (g *StripeGateway) Refund(ctx context.Context, paymentID, providerRef string, amount float64) (*RefundResult, error) {
	if providerRef == "" {
		return nil, fmt.Errorf("provider reference is required")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(int64(amount * 100)),
	}
	params.IdempotencyKey = stripe.String(paymentID + ":refund")

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}
	return &RefundResult{RefundRef: r.ID}, nil
}

// Cancel voids an uncaptured hold.
func (g *StripeGateway) Cancel(ctx context.Context, paymentID, providerRef string) error {
	if providerRef == "" {
		return nil
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.IdempotencyKey = stripe.String(paymentID + ":cancel")

	if _, err := paymentintent.Cancel(providerRef, params); err != nil {
		return fmt.Errorf("failed to cancel payment intent: %w", err)
	}
	return nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}
