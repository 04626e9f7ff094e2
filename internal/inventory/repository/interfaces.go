package repository

import (
	"context"
	"time"

	"github.com/eventix/eventix/internal/inventory/domain"
)

// EventRepository defines data access for catalog events.
type EventRepository interface {
	// Create creates a new event
	Create(ctx context.Context, event *domain.Event) error
	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	// List lists events with pagination
	List(ctx context.Context, limit, offset int) ([]*domain.Event, int, error)
	// UpdateStatus updates the publication status
	UpdateStatus(ctx context.Context, id string, status domain.EventStatus) error
}

// ReserveParams carries the inputs of an atomic reservation attempt.
type ReserveParams struct {
	EventID    string
	UserID     string
	SeatIDs    []string
	TTL        time.Duration
	SeatPrices map[string]float64
	Currency   string
}

// InventoryRepository defines data access for seats and reservations.
// Reserve, Confirm, Release and SweepExpired each run in a single
// transaction with row locks on the seat rows.
type InventoryRepository interface {
	// CheckAvailability reports per-seat availability for an event
	CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error)
	// Reserve atomically reserves all seats or fails with ErrSeatConflict
	Reserve(ctx context.Context, params *ReserveParams) ([]*domain.Reservation, error)
	// Confirm marks reservations CONFIRMED and their seats OCCUPIED;
	// idempotent on an already confirmed reservation with the same ref
	Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error
	// Release marks reservations CANCELLED and their seats AVAILABLE;
	// idempotent on already released reservations
	Release(ctx context.Context, reservationIDs []string) error
	// SweepExpired expires PENDING reservations past their deadline and
	// frees their seats, returning what was expired
	SweepExpired(ctx context.Context) ([]*domain.Reservation, error)
	// GetReservations loads reservations by id
	GetReservations(ctx context.Context, reservationIDs []string) ([]*domain.Reservation, error)
	// CreateSeats bulk-inserts seats for an event's venue sections
	CreateSeats(ctx context.Context, seats []*domain.Seat) error
}
