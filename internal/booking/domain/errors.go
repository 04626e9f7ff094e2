package domain

import "errors"

var (
	// ErrBookingNotFound is returned when no booking matches the lookup.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrNotCancellable is returned when the booking's status forbids a
	// user cancel.
	ErrNotCancellable = errors.New("booking cannot be cancelled")
	// ErrInvalidTransition is returned when the stored status does not
	// permit the requested transition.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrTotalMismatch is returned when total_amount does not equal the
	// sum of item totals.
	ErrTotalMismatch = errors.New("total amount does not match item totals")
	// ErrNoItems is returned when a booking is created without items.
	ErrNoItems = errors.New("booking requires at least one item")
)

// Stable error codes surfaced in API responses.
const (
	CodeBookingNotFound   = "BOOKING_NOT_FOUND"
	CodeNotCancellable    = "NOT_CANCELLABLE"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeValidation        = "VALIDATION_ERROR"
)
