// Package consumer wires the user-service queue: the validate_user
// workflow step plus the notification emitter feeding off booking and
// payment facts.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/internal/user/service"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/workflow"
)

const sourceService = "user-service"

// QueueName is the user-service's durable queue.
const QueueName = "user-service.queue"

// Bindings returns the routing patterns the user-service consumes.
func Bindings() []rabbitmq.QueueBinding {
	return []rabbitmq.QueueBinding{
		{Exchange: rabbitmq.UserExchange, Pattern: "user.validate"},
		{Exchange: rabbitmq.UserExchange, Pattern: "user.notification.send"},
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.confirmed"},
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.cancelled"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.failed"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.refunded"},
	}
}

// UserConsumer dispatches bus events to auth validation and the
// notification emitter.
type UserConsumer struct {
	auth          service.AuthService
	notifications service.NotificationService
	publisher     rabbitmq.EventPublisher
	log           *logger.Logger
}

// NewUserConsumer creates the consumer.
func NewUserConsumer(auth service.AuthService, notifications service.NotificationService, publisher rabbitmq.EventPublisher) *UserConsumer {
	return &UserConsumer{
		auth:          auth,
		notifications: notifications,
		publisher:     publisher,
		log:           logger.Get().With(zap.String("component", "user_consumer")),
	}
}

// Handle dispatches one envelope. Unknown event types are logged and
// acknowledged so they cannot poison the queue.
func (c *UserConsumer) Handle(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.UserValidate:
		return c.onUserValidate(ctx, env)
	case events.NotificationSend:
		return c.onNotificationSend(ctx, env)
	case events.BookingConfirmed:
		return c.onBookingConfirmed(ctx, env)
	case events.BookingCancelled:
		return c.onBookingCancelled(ctx, env)
	case events.PaymentFailed, events.PaymentRefunded:
		return c.onPaymentEvent(ctx, env)
	default:
		c.log.Warn("dropping unknown event type",
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
}

// onUserValidate handles the validate_user workflow step.
func (c *UserConsumer) onUserValidate(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed user.validate request", zap.Error(err))
		return nil
	}

	userID, _ := req.Context["user_id"].(string)
	err := c.auth.ValidateUser(ctx, userID)
	if err != nil {
		retryable := !errors.Is(err, domain.ErrUserNotFound) && !errors.Is(err, domain.ErrUserInactive)
		return c.respond(ctx, env, &req, nil, err, retryable)
	}
	return c.respond(ctx, env, &req, map[string]any{"user_valid": true}, nil, false)
}

// onNotificationSend handles the send_confirmation workflow step.
func (c *UserConsumer) onNotificationSend(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed notification.send request", zap.Error(err))
		return nil
	}

	if req.Compensation {
		// A sent notification cannot be unsent.
		return c.respondTo(ctx, env, events.NotificationSendResponse, &req, nil, nil, false)
	}

	userID, _ := req.Context["user_id"].(string)
	reference, _ := req.Context["booking_reference"].(string)

	err := c.notifications.Emit(ctx, userID, domain.NotificationBookingConfirmed,
		"Booking confirmed",
		fmt.Sprintf("Your booking %s is confirmed. See you there!", reference),
		env.EventID)
	return c.respondTo(ctx, env, events.NotificationSendResponse, &req, nil, err, err != nil)
}

func (c *UserConsumer) onBookingConfirmed(ctx context.Context, env *events.Envelope) error {
	var data events.BookingConfirmedData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed booking.confirmed", zap.Error(err))
		return nil
	}
	return c.notifications.Emit(ctx, data.UserID, domain.NotificationBookingConfirmed,
		"Booking confirmed",
		fmt.Sprintf("Your booking %s is confirmed.", data.BookingReference),
		env.EventID)
}

func (c *UserConsumer) onBookingCancelled(ctx context.Context, env *events.Envelope) error {
	var data events.BookingCancelledData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed booking.cancelled", zap.Error(err))
		return nil
	}
	return c.notifications.Emit(ctx, data.UserID, domain.NotificationBookingCancelled,
		"Booking cancelled",
		fmt.Sprintf("Your booking %s was cancelled (%s).", data.BookingReference, data.Reason),
		env.EventID)
}

func (c *UserConsumer) onPaymentEvent(ctx context.Context, env *events.Envelope) error {
	var data events.PaymentData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed payment event", zap.Error(err))
		return nil
	}

	kind := domain.NotificationPaymentFailed
	subject := "Payment failed"
	body := fmt.Sprintf("Your payment of %.2f %s could not be processed.", data.Amount, data.Currency)
	if env.EventType == events.PaymentRefunded {
		kind = domain.NotificationPaymentRefunded
		subject = "Payment refunded"
		body = fmt.Sprintf("Your payment of %.2f %s has been refunded.", data.Amount, data.Currency)
	}
	return c.notifications.Emit(ctx, data.UserID, kind, subject, body, env.EventID)
}

func (c *UserConsumer) respond(ctx context.Context, cause *events.Envelope, req *workflow.StepRequest, result map[string]any, stepErr error, canRetry bool) error {
	return c.respondTo(ctx, cause, events.UserValidateResponse, req, result, stepErr, canRetry)
}

// respondTo publishes a StepResponse back to the orchestrator.
func (c *UserConsumer) respondTo(ctx context.Context, cause *events.Envelope, responseType events.Type, req *workflow.StepRequest, result map[string]any, stepErr error, canRetry bool) error {
	resp := &workflow.StepResponse{
		WorkflowID:   req.WorkflowID,
		StepName:     req.StepName,
		Success:      stepErr == nil,
		Result:       result,
		Retryable:    canRetry,
		Compensation: req.Compensation,
	}
	if stepErr != nil {
		resp.Error = stepErr.Error()
	}

	env, err := events.New(responseType, sourceService, resp)
	if err != nil {
		return err
	}
	env.WithCorrelation(req.WorkflowID).WithCausation(cause.EventID)
	return c.publisher.Publish(ctx, env)
}
