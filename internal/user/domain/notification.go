package domain

import "time"

// NotificationType matches the event that produced the notification.
type NotificationType string

const (
	NotificationBookingConfirmed NotificationType = "booking_confirmed"
	NotificationBookingCancelled NotificationType = "booking_cancelled"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationPaymentRefunded  NotificationType = "payment_refunded"
	NotificationEmail            NotificationType = "email"
)

// Notification is one message emitted to a user. SourceEventID is the
// bus event that produced it, so a redelivered event cannot produce a
// second row.
type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Type          NotificationType `json:"type"`
	Subject       string           `json:"subject"`
	Body          string           `json:"body"`
	SourceEventID string           `json:"source_event_id"`
	CreatedAt     time.Time        `json:"created_at"`
}
