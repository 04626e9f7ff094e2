package repository

import (
	"context"

	"github.com/eventix/eventix/internal/payment/domain"
)

// PaymentRepository persists payments. One payment exists per booking:
// UpsertPending converges concurrent creates onto a single row, and the
// status transitions are compare-and-swap so replayed events become
// no-ops instead of double charges.
type PaymentRepository interface {
	// UpsertPending inserts a PENDING payment for the booking, or
	// returns the existing payment when one is already recorded.
	// The bool reports whether a new row was created.
	UpsertPending(ctx context.Context, payment *domain.Payment) (*domain.Payment, bool, error)

	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error)

	// SetIntent records the provider hold created for the payment.
	SetIntent(ctx context.Context, id, intentRef, providerRef string) error

	// MarkProcessing moves PENDING to PROCESSING.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// Complete moves PROCESSING to COMPLETED.
	Complete(ctx context.Context, id, providerRef string) (bool, error)
	// Fail moves PROCESSING to FAILED with the decline reason.
	Fail(ctx context.Context, id, reason string) (bool, error)
	// Refund moves COMPLETED to REFUNDED.
	Refund(ctx context.Context, id, refundRef string) (bool, error)
	// CancelPending moves PENDING to CANCELLED.
	CancelPending(ctx context.Context, id string) (bool, error)
}
