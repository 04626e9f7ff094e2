package domain

import "errors"

var (
	// ErrSeatConflict is returned when any requested seat cannot be
	// reserved. The whole reservation fails, there are no partial holds.
	ErrSeatConflict = errors.New("one or more seats are not available")
	// ErrReservationExpired is returned when a confirm loses the race
	// against the expiry sweep.
	ErrReservationExpired = errors.New("reservation has expired")
	// ErrReservationNotFound is returned for unknown reservation ids.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrSeatNotFound is returned for unknown seat ids.
	ErrSeatNotFound = errors.New("seat not found")
	// ErrEventNotFound is returned for unknown event ids.
	ErrEventNotFound = errors.New("event not found")
)

// Error codes used in API responses and step results.
const (
	CodeSeatConflict       = "SEAT_CONFLICT"
	CodeReservationExpired = "RESERVATION_EXPIRED"
	CodeNotFound           = "NOT_FOUND"
)
