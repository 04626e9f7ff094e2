package dto

import (
	"time"

	"github.com/eventix/eventix/internal/booking/domain"
)

// CreateBookingItem is one seat line of a create request.
type CreateBookingItem struct {
	SeatID      string  `json:"seat_id" binding:"required"`
	SectionID   string  `json:"section_id" binding:"required"`
	SectionName string  `json:"section_name"`
	SeatRow     string  `json:"seat_row"`
	SeatNumber  int     `json:"seat_number"`
	UnitPrice   float64 `json:"unit_price" binding:"required,gt=0"`
	Quantity    int     `json:"quantity" binding:"required,gt=0"`
}

// CreateBookingRequest is the body of POST /api/v1/bookings/create.
type CreateBookingRequest struct {
	EventID       string              `json:"event_id" binding:"required"`
	TotalAmount   float64             `json:"total_amount" binding:"required,gt=0"`
	Currency      string              `json:"currency" binding:"required,len=3"`
	CustomerEmail string              `json:"customer_email" binding:"required,email"`
	CustomerName  string              `json:"customer_name" binding:"required"`
	CustomerPhone string              `json:"customer_phone"`
	Items         []CreateBookingItem `json:"items" binding:"required,min=1,dive"`
}

// ToDomain converts the request into a domain booking owned by userID.
func (r *CreateBookingRequest) ToDomain(userID string) *domain.Booking {
	booking := &domain.Booking{
		UserID:        userID,
		EventID:       r.EventID,
		TotalAmount:   r.TotalAmount,
		Currency:      r.Currency,
		CustomerEmail: r.CustomerEmail,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
	}
	for _, item := range r.Items {
		booking.Items = append(booking.Items, &domain.BookingItem{
			SeatID:      item.SeatID,
			SectionID:   item.SectionID,
			SectionName: item.SectionName,
			SeatRow:     item.SeatRow,
			SeatNumber:  item.SeatNumber,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.UnitPrice * float64(item.Quantity),
		})
	}
	return booking
}

// CreateBookingResponse acknowledges an accepted booking.
type CreateBookingResponse struct {
	BookingID        string `json:"booking_id"`
	BookingReference string `json:"booking_reference"`
	Status           string `json:"status"`
	CorrelationID    string `json:"correlation_id"`
}

// BookingItemResponse is the API shape of a booking item.
type BookingItemResponse struct {
	SeatID      string  `json:"seat_id"`
	SectionID   string  `json:"section_id"`
	SectionName string  `json:"section_name,omitempty"`
	SeatRow     string  `json:"seat_row,omitempty"`
	SeatNumber  int     `json:"seat_number,omitempty"`
	UnitPrice   float64 `json:"unit_price"`
	Quantity    int     `json:"quantity"`
	TotalPrice  float64 `json:"total_price"`
}

// BookingResponse is the API shape of a booking.
type BookingResponse struct {
	ID               string                `json:"id"`
	BookingReference string                `json:"booking_reference"`
	EventID          string                `json:"event_id"`
	Status           string                `json:"status"`
	TotalAmount      float64               `json:"total_amount"`
	Currency         string                `json:"currency"`
	ExpiryDate       time.Time             `json:"expiry_date"`
	ConfirmedAt      *time.Time            `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time            `json:"cancelled_at,omitempty"`
	CancelReason     string                `json:"cancel_reason,omitempty"`
	Items            []BookingItemResponse `json:"items,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

// FromDomainBooking maps a domain booking to its API shape.
func FromDomainBooking(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:               b.ID,
		BookingReference: b.BookingReference,
		EventID:          b.EventID,
		Status:           string(b.Status),
		TotalAmount:      b.TotalAmount,
		Currency:         b.Currency,
		ExpiryDate:       b.ExpiryDate,
		ConfirmedAt:      b.ConfirmedAt,
		CancelledAt:      b.CancelledAt,
		CancelReason:     b.CancelReason,
		CreatedAt:        b.CreatedAt,
	}
	for _, item := range b.Items {
		resp.Items = append(resp.Items, BookingItemResponse{
			SeatID:      item.SeatID,
			SectionID:   item.SectionID,
			SectionName: item.SectionName,
			SeatRow:     item.SeatRow,
			SeatNumber:  item.SeatNumber,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice,
		})
	}
	return resp
}

// ListBookingsResponse pages a user's bookings.
type ListBookingsResponse struct {
	Bookings []*BookingResponse `json:"bookings"`
	Total    int                `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}
