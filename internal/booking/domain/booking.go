package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// BookingStatus is the lifecycle status of a booking. Transitions are
// monotonic, terminal statuses never move again except
// CANCELLED -> REFUNDED once the refund lands.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingExpired   BookingStatus = "EXPIRED"
	BookingRefunded  BookingStatus = "REFUNDED"
)

// Cancellable reports whether a user cancel is possible from this status.
func (s BookingStatus) Cancellable() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Cancellation reasons carried on booking.cancelled events.
const (
	ReasonSeatsUnavailable = "seats_unavailable"
	ReasonPaymentFailed    = "payment_failed"
	ReasonExpired          = "expired"
	ReasonUserCancelled    = "user_cancelled"
)

// DefaultExpiry is how long a PENDING booking holds before it expires.
const DefaultExpiry = 15 * time.Minute

// Booking is one purchase attempt for a set of seats.
type Booking struct {
	ID               string        `json:"id"`
	BookingReference string        `json:"booking_reference"`
	UserID           string        `json:"user_id"`
	EventID          string        `json:"event_id"`
	Status           BookingStatus `json:"status"`
	TotalAmount      float64       `json:"total_amount"`
	Currency         string        `json:"currency"`
	ExpiryDate       time.Time     `json:"expiry_date"`
	ConfirmedAt      *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	CustomerEmail    string        `json:"customer_email"`
	CustomerName     string        `json:"customer_name"`
	CustomerPhone    string        `json:"customer_phone,omitempty"`
	ReservationIDs   []string      `json:"reservation_ids,omitempty"`
	PaymentID        string        `json:"payment_id,omitempty"`
	Items            []*BookingItem `json:"items,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ItemsTotal sums unit_price * quantity over the booking's items.
func (b *Booking) ItemsTotal() float64 {
	var total float64
	for _, item := range b.Items {
		total += item.UnitPrice * float64(item.Quantity)
	}
	return total
}

// PastExpiry reports whether the PENDING hold has run out.
func (b *Booking) PastExpiry(now time.Time) bool {
	return b.Status == BookingPending && now.After(b.ExpiryDate)
}

// BookingItem is one seat line within a booking.
type BookingItem struct {
	ID          string  `json:"id"`
	BookingID   string  `json:"booking_id"`
	SeatID      string  `json:"seat_id"`
	SectionID   string  `json:"section_id"`
	SectionName string  `json:"section_name,omitempty"`
	SeatRow     string  `json:"seat_row,omitempty"`
	SeatNumber  int     `json:"seat_number,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	TotalPrice  float64 `json:"total_price"`
}

// BookingHistory is one status-change audit row.
type BookingHistory struct {
	ID         string        `json:"id"`
	BookingID  string        `json:"booking_id"`
	FromStatus BookingStatus `json:"from_status"`
	ToStatus   BookingStatus `json:"to_status"`
	Reason     string        `json:"reason,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// NewBookingReference builds a short human-readable reference of the
// form BK<YYYYMMDD><8 uppercase hex>.
func NewBookingReference(now time.Time) string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return "BK" + now.UTC().Format("20060102") + strings.ToUpper(hex.EncodeToString(buf))
}
