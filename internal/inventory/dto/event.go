package dto

import (
	"time"

	"github.com/eventix/eventix/internal/inventory/domain"
)

// CreateEventRequest is the body of POST /api/v1/events.
type CreateEventRequest struct {
	Name       string    `json:"name" binding:"required"`
	Venue      string    `json:"venue" binding:"required"`
	StartsAt   time.Time `json:"starts_at" binding:"required"`
	TotalSeats int       `json:"total_seats" binding:"required,gt=0"`
}

// ToDomain converts the request into a domain event.
func (r *CreateEventRequest) ToDomain() *domain.Event {
	return &domain.Event{
		Name:       r.Name,
		Venue:      r.Venue,
		StartsAt:   r.StartsAt,
		TotalSeats: r.TotalSeats,
	}
}

// EventResponse is the API shape of an event.
type EventResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Venue      string    `json:"venue"`
	StartsAt   time.Time `json:"starts_at"`
	Status     string    `json:"status"`
	TotalSeats int       `json:"total_seats"`
	CreatedAt  time.Time `json:"created_at"`
}

// FromDomainEvent maps a domain event to its API shape.
func FromDomainEvent(e *domain.Event) *EventResponse {
	return &EventResponse{
		ID:         e.ID,
		Name:       e.Name,
		Venue:      e.Venue,
		StartsAt:   e.StartsAt,
		Status:     string(e.Status),
		TotalSeats: e.TotalSeats,
		CreatedAt:  e.CreatedAt,
	}
}

// AvailabilityResponse is the body of the availability query.
type AvailabilityResponse struct {
	EventID string                     `json:"event_id"`
	Seats   []*domain.SeatAvailability `json:"seats"`
}

// ListEventsResponse wraps a paginated event list.
type ListEventsResponse struct {
	Events []*EventResponse `json:"events"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}
