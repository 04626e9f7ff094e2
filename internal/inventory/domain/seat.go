package domain

import "time"

// SeatStatus is the lifecycle status of a seat. Status is mutated only
// by the reservation store.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatOccupied  SeatStatus = "OCCUPIED"
	SeatBlocked   SeatStatus = "BLOCKED"
)

// SeatType classifies a seat for pricing.
type SeatType string

const (
	SeatRegular    SeatType = "REGULAR"
	SeatVIP        SeatType = "VIP"
	SeatPremium    SeatType = "PREMIUM"
	SeatAccessible SeatType = "ACCESSIBLE"
)

// Seat is one physical seat. (section_id, row, number) is unique.
type Seat struct {
	ID        string     `json:"id"`
	SectionID string     `json:"section_id"`
	Row       string     `json:"row"`
	Number    int        `json:"number"`
	Type      SeatType   `json:"type"`
	Status    SeatStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ReservationStatus is the lifecycle status of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

// Active reports whether the reservation still holds the seat. At most
// one active reservation exists per (seat_id, event_id).
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationConfirmed
}

// Reservation is a short-lived hold of one seat for one event.
type Reservation struct {
	ID            string            `json:"id"`
	SeatID        string            `json:"seat_id"`
	EventID       string            `json:"event_id"`
	UserID        string            `json:"user_id"`
	Status        ReservationStatus `json:"status"`
	ReservedAt    time.Time         `json:"reserved_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	ConfirmedAt   *time.Time        `json:"confirmed_at,omitempty"`
	BookingRef    string            `json:"booking_ref,omitempty"`
	ReservedPrice float64           `json:"reserved_price"`
	Currency      string            `json:"currency"`
	PricingTierID string            `json:"pricing_tier_id,omitempty"`
}

// Expired reports whether the reservation is logically expired. A
// PENDING reservation past its deadline is expired regardless of the
// stored status.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == ReservationPending && now.After(r.ExpiresAt)
}

// SeatAvailability is one row of an availability query result. The
// answer is advisory, the reservation attempt is authoritative.
type SeatAvailability struct {
	SeatID    string `json:"seat_id"`
	Available bool   `json:"available"`
}
