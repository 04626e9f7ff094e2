// Package events defines the wire envelope and event taxonomy shared by
// every service. Payload shapes are fixed once published; adding fields
// is allowed, removing or renaming is a breaking change.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event on the bus. The routing key equals the type.
type Type string

const (
	// User events
	UserCreated  Type = "user.created"
	UserUpdated  Type = "user.updated"
	UserLoggedIn Type = "user.logged_in"

	// Event (catalog) events
	EventCreated   Type = "event.created"
	EventUpdated   Type = "event.updated"
	EventPublished Type = "event.published"
	EventCancelled Type = "event.cancelled"
	SeatReserved   Type = "event.seat.reserved"
	SeatReleased   Type = "event.seat.released"

	// Booking events
	BookingInitiated Type = "booking.initiated"
	BookingConfirmed Type = "booking.confirmed"
	BookingCancelled Type = "booking.cancelled"
	BookingExpired   Type = "booking.expired"

	// Payment events
	PaymentInitiated Type = "payment.initiated"
	PaymentCompleted Type = "payment.completed"
	PaymentFailed    Type = "payment.failed"
	PaymentRefunded  Type = "payment.refunded"

	// Notification events
	NotificationEmail Type = "notification.email"
)

// Domain returns the leading segment of the type, which selects the
// exchange the event is published on.
func (t Type) Domain() string {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Known reports whether t is part of the published taxonomy. Consumers
// drop unknown types instead of failing the delivery.
func (t Type) Known() bool {
	switch t {
	case UserCreated, UserUpdated, UserLoggedIn,
		EventCreated, EventUpdated, EventPublished, EventCancelled,
		SeatReserved, SeatReleased,
		BookingInitiated, BookingConfirmed, BookingCancelled, BookingExpired,
		PaymentInitiated, PaymentCompleted, PaymentFailed, PaymentRefunded,
		NotificationEmail:
		return true
	}
	return false
}

// Envelope is the common wrapper around every published event.
type Envelope struct {
	EventID       string            `json:"event_id"`
	EventType     Type              `json:"event_type"`
	SourceService string            `json:"source_service"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	CausationID   string            `json:"causation_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// New builds an envelope around data, assigning a fresh event id.
func New(eventType Type, source string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SourceService: source,
		Timestamp:     time.Now().UTC(),
		Data:          raw,
	}, nil
}

// WithCorrelation sets the correlation id and returns the envelope.
func (e *Envelope) WithCorrelation(correlationID string) *Envelope {
	e.CorrelationID = correlationID
	return e
}

// WithCausation records the event id that directly caused this one.
func (e *Envelope) WithCausation(eventID string) *Envelope {
	e.CausationID = eventID
	return e
}

// WithUser sets the acting user and returns the envelope.
func (e *Envelope) WithUser(userID string) *Envelope {
	e.UserID = userID
	return e
}

// Decode unmarshals the envelope payload into out.
func (e *Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Unmarshal parses a raw delivery body into an envelope. An envelope
// without an event id or type is malformed and rejected.
func Unmarshal(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed event body: %w", err)
	}
	if env.EventID == "" || env.EventType == "" {
		return nil, fmt.Errorf("malformed event: missing event_id or event_type")
	}
	return &env, nil
}
