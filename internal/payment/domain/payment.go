package domain

import "time"

// PaymentStatus is the lifecycle status of a payment.
// PENDING -> PROCESSING -> {COMPLETED, FAILED}; COMPLETED -> REFUNDED;
// CANCELLED only from PENDING.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

// Terminal reports whether the status can still move, REFUNDED aside.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentRefunded || s == PaymentCancelled
}

// Payment is one charge attempt for a booking. At most one payment
// exists per booking; the pull and push creation paths converge on it.
type Payment struct {
	ID            string        `json:"id"`
	BookingID     string        `json:"booking_id"`
	UserID        string        `json:"user_id"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Status        PaymentStatus `json:"status"`
	IntentRef     string        `json:"intent_ref,omitempty"`
	ProviderRef   string        `json:"provider_ref,omitempty"`
	RefundRef     string        `json:"refund_ref,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
