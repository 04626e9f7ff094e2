package domain

import "time"

// EventStatus is the publication status of a catalog event.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
)

// Event is a ticketed event in the catalog.
type Event struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Venue      string      `json:"venue"`
	StartsAt   time.Time   `json:"starts_at"`
	Status     EventStatus `json:"status"`
	TotalSeats int         `json:"total_seats"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
