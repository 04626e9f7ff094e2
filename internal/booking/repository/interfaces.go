package repository

import (
	"context"
	"time"

	"github.com/eventix/eventix/internal/booking/domain"
)

// BookingRepository defines data access for bookings, their items and
// the status-change audit trail. Transition applies a compare-and-swap
// on the stored status so replayed events cannot move a booking twice.
type BookingRepository interface {
	// Create persists the booking and its items in one transaction
	Create(ctx context.Context, booking *domain.Booking) error
	// GetByID retrieves a booking with its items
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// ListByUser lists a user's bookings, newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, int, error)
	// Transition moves the booking from one of the given statuses to
	// the target status, recording a history row. Returns false when
	// the stored status did not match, without error.
	Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (bool, error)
	// TransitionOnEvent is Transition plus the processed-events guard
	// for the bus event id, applied in one transaction. fresh=false
	// means the event was already applied; a transition error rolls
	// the guard back so the delivery can retry.
	TransitionOnEvent(ctx context.Context, id, eventID string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (moved, fresh bool, err error)
	// SetReservations records the reservation ids holding the seats
	SetReservations(ctx context.Context, id string, reservationIDs []string) error
	// SetPaymentID links the payment record once known
	SetPaymentID(ctx context.Context, id, paymentID string) error
	// MarkProcessed records an inbound event id against the booking.
	// Returns false when the event was already processed.
	MarkProcessed(ctx context.Context, bookingID, eventID string) (bool, error)
	// ListExpired returns PENDING bookings past their expiry date
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)
	// GetHistory returns the booking's audit trail, oldest first
	GetHistory(ctx context.Context, bookingID string) ([]*domain.BookingHistory, error)
}
