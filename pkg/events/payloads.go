package events

import "time"

// UserCreatedData is published after a successful registration.
type UserCreatedData struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// EventCreatedData announces a new event in the catalog.
type EventCreatedData struct {
	EventID    string    `json:"event_id"`
	Name       string    `json:"name"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	TotalSeats int       `json:"total_seats"`
}

// BookingItem is one seat within a booking.
type BookingItem struct {
	SeatID string  `json:"seat_id"`
	Price  float64 `json:"price"`
}

// BookingInitiatedData starts the booking saga and the payment pull path.
type BookingInitiatedData struct {
	BookingID        string        `json:"booking_id"`
	BookingReference string        `json:"booking_reference"`
	UserID           string        `json:"user_id"`
	EventID          string        `json:"event_id"`
	Items            []BookingItem `json:"items"`
	TotalAmount      float64       `json:"total_amount"`
	Currency         string        `json:"currency"`
	ExpiryDate       time.Time     `json:"expiry_date"`
}

// SeatReservedData reports the outcome of a reservation attempt.
// Success=false carries the reason instead of reservation ids.
type SeatReservedData struct {
	BookingID      string    `json:"booking_id"`
	EventID        string    `json:"event_id"`
	UserID         string    `json:"user_id"`
	SeatIDs        []string  `json:"seat_ids"`
	ReservationIDs []string  `json:"reservation_ids,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	Success        bool      `json:"success"`
	Reason         string    `json:"reason,omitempty"`
}

// SeatsConfirmData finalizes reservations under a booking reference.
type SeatsConfirmData struct {
	BookingID        string   `json:"booking_id"`
	BookingReference string   `json:"booking_reference"`
	ReservationIDs   []string `json:"reservation_ids"`
}

// SeatReleasedData reports seats returned to the pool.
type SeatReleasedData struct {
	BookingID      string   `json:"booking_id,omitempty"`
	EventID        string   `json:"event_id"`
	SeatIDs        []string `json:"seat_ids"`
	ReservationIDs []string `json:"reservation_ids"`
	Reason         string   `json:"reason"`
}

// BookingConfirmedData is published once payment succeeded and the
// reservations were confirmed.
type BookingConfirmedData struct {
	BookingID        string  `json:"booking_id"`
	BookingReference string  `json:"booking_reference"`
	UserID           string  `json:"user_id"`
	EventID          string  `json:"event_id"`
	TotalAmount      float64 `json:"total_amount"`
	Currency         string  `json:"currency"`
}

// BookingCancelledData carries the cancellation reason, one of
// seats_unavailable, payment_failed, expired, user_cancelled.
type BookingCancelledData struct {
	BookingID        string `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	UserID           string `json:"user_id"`
	EventID          string `json:"event_id"`
	Reason           string `json:"reason"`
}

// PaymentData is shared by the payment lifecycle events.
type PaymentData struct {
	PaymentID   string  `json:"payment_id"`
	BookingID   string  `json:"booking_id"`
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	ProviderRef string  `json:"provider_ref,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// NotificationEmailData asks the notification emitter to send an email.
type NotificationEmailData struct {
	UserID   string            `json:"user_id"`
	Email    string            `json:"email"`
	Template string            `json:"template"`
	Subject  string            `json:"subject"`
	Params   map[string]string `json:"params,omitempty"`
}
