package dto

import (
	"time"

	"github.com/eventix/eventix/internal/payment/domain"
)

// CreatePaymentRequest is the push path for opening a payment. The
// booking.initiated event opens the same payment on the pull path.
type CreatePaymentRequest struct {
	BookingID string  `json:"booking_id" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Currency  string  `json:"currency" binding:"required,len=3"`
}

// RefundPaymentRequest asks for a refund of a completed payment.
type RefundPaymentRequest struct {
	Reason string `json:"reason"`
}

// PaymentResponse is the API shape of a payment.
type PaymentResponse struct {
	PaymentID     string     `json:"payment_id"`
	BookingID     string     `json:"booking_id"`
	UserID        string     `json:"user_id"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	ProviderRef   string     `json:"provider_ref,omitempty"`
	RefundRef     string     `json:"refund_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// FromDomainPayment converts a domain payment to its API shape.
func FromDomainPayment(p *domain.Payment) *PaymentResponse {
	return &PaymentResponse{
		PaymentID:     p.ID,
		BookingID:     p.BookingID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        string(p.Status),
		ProviderRef:   p.ProviderRef,
		RefundRef:     p.RefundRef,
		FailureReason: p.FailureReason,
		CompletedAt:   p.CompletedAt,
		RefundedAt:    p.RefundedAt,
		CreatedAt:     p.CreatedAt,
	}
}
