// Package consumer routes the booking-service queue: workflow step
// responses go to the orchestrator, domain events from the inventory
// and payment services drive the booking state machine.
package consumer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/booking/domain"
	"github.com/eventix/eventix/internal/booking/service"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

// QueueName is the booking-service's durable queue.
const QueueName = "booking-service.queue"

// Bindings returns the routing patterns the booking-service consumes.
// booking.# also catches the step responses every target service
// publishes back on the booking exchange.
func Bindings() []rabbitmq.QueueBinding {
	return []rabbitmq.QueueBinding{
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.#"},
		{Exchange: rabbitmq.EventExchange, Pattern: "event.seat.*"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.completed"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.failed"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.refunded"},
	}
}

// ResponseHandler receives workflow step responses. Satisfied by the
// orchestrator.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, env *events.Envelope) error
}

// workflowOutcome is the payload of <type>.completed / <type>.failed.
type workflowOutcome struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowType string         `json:"workflow_type"`
	Error        string         `json:"error,omitempty"`
	Context      map[string]any `json:"context"`
}

// BookingConsumer dispatches bus events for the booking service.
type BookingConsumer struct {
	bookings  service.BookingService
	responses ResponseHandler
	log       *logger.Logger
}

// NewBookingConsumer creates the consumer.
func NewBookingConsumer(bookings service.BookingService, responses ResponseHandler) *BookingConsumer {
	return &BookingConsumer{
		bookings:  bookings,
		responses: responses,
		log:       logger.Get().With(zap.String("component", "booking_consumer")),
	}
}

// Handle dispatches one envelope.
func (c *BookingConsumer) Handle(ctx context.Context, env *events.Envelope) error {
	if strings.HasSuffix(string(env.EventType), ".response") {
		return c.responses.HandleResponse(ctx, env)
	}

	switch env.EventType {
	case events.BookingCreationCompleted, events.BookingCreationFailed,
		events.BookingConfirmationCompleted, events.BookingConfirmationFailed:
		return c.onWorkflowOutcome(ctx, env)
	case events.SeatReserved:
		return c.onSeatReserved(ctx, env)
	case events.PaymentCompleted:
		return c.onPayment(ctx, env, c.bookings.OnPaymentCompleted)
	case events.PaymentFailed:
		return c.onPayment(ctx, env, c.bookings.OnPaymentFailed)
	case events.PaymentRefunded:
		return c.onPayment(ctx, env, c.bookings.OnPaymentRefunded)
	case events.BookingInitiated, events.BookingConfirmed, events.BookingCancelled,
		events.BookingExpired, events.SeatReleased:
		// Own published facts echoing back on booking.#, nothing to apply.
		return nil
	default:
		c.log.Warn("dropping unknown event type",
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
}

func (c *BookingConsumer) onSeatReserved(ctx context.Context, env *events.Envelope) error {
	var data events.SeatReservedData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed seat.reserved", zap.Error(err))
		return nil
	}
	return c.bookings.OnSeatsReserved(ctx, env.EventID, &data)
}

func (c *BookingConsumer) onPayment(ctx context.Context, env *events.Envelope, apply func(context.Context, string, *events.PaymentData) error) error {
	var data events.PaymentData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed payment event",
			zap.String("event_type", string(env.EventType)),
			zap.Error(err),
		)
		return nil
	}
	return apply(ctx, env.EventID, &data)
}

func (c *BookingConsumer) onWorkflowOutcome(ctx context.Context, env *events.Envelope) error {
	var outcome workflowOutcome
	if err := env.Decode(&outcome); err != nil {
		c.log.Warn("dropping malformed workflow outcome", zap.Error(err))
		return nil
	}
	bookingID, _ := outcome.Context["booking_id"].(string)
	if bookingID == "" {
		c.log.Warn("workflow outcome without booking_id",
			zap.String("workflow_id", outcome.WorkflowID),
		)
		return nil
	}

	success := env.EventType == events.BookingCreationCompleted ||
		env.EventType == events.BookingConfirmationCompleted
	return c.bookings.OnWorkflowOutcome(ctx, env.EventID, bookingID,
		outcome.WorkflowType, success, cancelReason(outcome.Error))
}

// cancelReason maps a workflow failure to a booking cancellation
// reason by the step that failed.
func cancelReason(workflowErr string) string {
	switch {
	case workflowErr == "":
		return ""
	case strings.Contains(workflowErr, "process_payment"),
		strings.Contains(workflowErr, "create_payment_intent"):
		return domain.ReasonPaymentFailed
	default:
		return domain.ReasonSeatsUnavailable
	}
}
