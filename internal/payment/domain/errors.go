package domain

import "errors"

var (
	// ErrPaymentNotFound is returned when no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrNotRefundable is returned when the payment is not COMPLETED.
	ErrNotRefundable = errors.New("payment cannot be refunded")
	// ErrPaymentDeclined is returned when the provider declined the
	// charge. Declines are never retried.
	ErrPaymentDeclined = errors.New("payment declined")
)

// Stable error codes surfaced in API responses.
const (
	CodePaymentNotFound = "PAYMENT_NOT_FOUND"
	CodeNotRefundable   = "NOT_REFUNDABLE"
	CodePaymentDeclined = "PAYMENT_DECLINED"
)
