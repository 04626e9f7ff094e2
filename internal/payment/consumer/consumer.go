// Package consumer wires the payment-service queue: the booking.initiated
// pull path plus the workflow commands for intents, capture and refunds.
package consumer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/internal/payment/service"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/workflow"
)

const sourceService = "payment-service"

// QueueName is the payment-service's durable queue.
const QueueName = "payment-service.queue"

// Bindings returns the routing patterns the payment-service consumes.
func Bindings() []rabbitmq.QueueBinding {
	return []rabbitmq.QueueBinding{
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.initiated"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.intent.create"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.intent.cancel"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.process"},
		{Exchange: rabbitmq.PaymentExchange, Pattern: "payment.refund.request"},
	}
}

// PaymentConsumer dispatches bus events to the payment service.
type PaymentConsumer struct {
	payments  service.PaymentService
	publisher rabbitmq.EventPublisher
	log       *logger.Logger
}

// NewPaymentConsumer creates the consumer.
func NewPaymentConsumer(payments service.PaymentService, publisher rabbitmq.EventPublisher) *PaymentConsumer {
	return &PaymentConsumer{
		payments:  payments,
		publisher: publisher,
		log:       logger.Get().With(zap.String("component", "payment_consumer")),
	}
}

// Handle dispatches one envelope. Unknown event types are logged and
// acknowledged so they cannot poison the queue.
func (c *PaymentConsumer) Handle(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.BookingInitiated:
		return c.onBookingInitiated(ctx, env)
	case events.PaymentIntentCreate:
		return c.onIntentCreate(ctx, env)
	case events.PaymentIntentCancel:
		return c.onIntentCancel(ctx, env)
	case events.PaymentProcess:
		return c.onProcess(ctx, env)
	case events.PaymentRefundRequest:
		return c.onRefundRequest(ctx, env)
	default:
		c.log.Warn("dropping unknown event type",
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
}

// onBookingInitiated opens a PENDING payment for the booking. The
// upsert makes a replayed delivery converge on the existing row.
func (c *PaymentConsumer) onBookingInitiated(ctx context.Context, env *events.Envelope) error {
	var data events.BookingInitiatedData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed booking.initiated", zap.Error(err))
		return nil
	}

	_, err := c.payments.EnsurePayment(ctx, data.BookingID, data.UserID, data.TotalAmount, data.Currency)
	return err
}

// onIntentCreate handles the create_payment_intent workflow step and
// its compensation.
func (c *PaymentConsumer) onIntentCreate(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed intent.create request", zap.Error(err))
		return nil
	}

	if req.Compensation {
		bookingID, _ := req.Context["booking_id"].(string)
		err := c.payments.CancelIntent(ctx, bookingID)
		return c.respond(ctx, env, events.PaymentIntentResponse, &req, nil, err, false)
	}

	bookingID, _ := req.Context["booking_id"].(string)
	userID, _ := req.Context["user_id"].(string)
	currency, _ := req.Context["currency"].(string)
	amount, _ := req.Context["total_amount"].(float64)

	payment, err := c.payments.CreateIntent(ctx, bookingID, userID, amount, currency)
	if err != nil {
		return c.respond(ctx, env, events.PaymentIntentResponse, &req, nil, err, retryable(err))
	}

	result := map[string]any{
		"payment_id":   payment.ID,
		"provider_ref": payment.ProviderRef,
	}
	return c.respond(ctx, env, events.PaymentIntentResponse, &req, result, nil, false)
}

// onIntentCancel voids the hold. Sent as a standalone command, it has
// no reply; as a compensation it answers the intent step's response.
func (c *PaymentConsumer) onIntentCancel(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed intent.cancel request", zap.Error(err))
		return nil
	}

	bookingID, _ := req.Context["booking_id"].(string)
	err := c.payments.CancelIntent(ctx, bookingID)
	if req.Compensation {
		return c.respond(ctx, env, events.PaymentIntentResponse, &req, nil, err, false)
	}
	return err
}

// onProcess handles the process_payment workflow step. A decline is a
// final answer, not a redelivery.
func (c *PaymentConsumer) onProcess(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed payment.process request", zap.Error(err))
		return nil
	}

	bookingID, _ := req.Context["booking_id"].(string)

	payment, err := c.payments.Process(ctx, bookingID)
	if err != nil {
		return c.respond(ctx, env, events.PaymentProcessResponse, &req, nil, err, retryable(err))
	}

	result := map[string]any{
		"payment_id":   payment.ID,
		"provider_ref": payment.ProviderRef,
	}
	return c.respond(ctx, env, events.PaymentProcessResponse, &req, result, nil, false)
}

// onRefundRequest serves two callers: the process_payment compensation
// carries a workflow id and gets a step response, the booking service's
// direct refund command carries PaymentData and gets none.
func (c *PaymentConsumer) onRefundRequest(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err == nil && req.WorkflowID != "" {
		paymentID, _ := req.Result["payment_id"].(string)
		if paymentID == "" {
			paymentID, _ = req.Context["payment_id"].(string)
		}
		_, err := c.payments.RefundPayment(ctx, paymentID, "compensation")
		if errors.Is(err, domain.ErrNotRefundable) || errors.Is(err, domain.ErrPaymentNotFound) {
			// Nothing was captured, the compensation is vacuously done.
			err = nil
		}
		return c.respond(ctx, env, events.PaymentProcessResponse, &req, nil, err, false)
	}

	var data events.PaymentData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed refund request", zap.Error(err))
		return nil
	}

	_, err := c.payments.RefundPayment(ctx, data.PaymentID, data.Reason)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotRefundable), errors.Is(err, domain.ErrPaymentNotFound):
		c.log.Warn("refund request for unrefundable payment",
			zap.String("payment_id", data.PaymentID),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

// respond publishes a StepResponse back to the orchestrator.
func (c *PaymentConsumer) respond(ctx context.Context, cause *events.Envelope, responseType events.Type, req *workflow.StepRequest, result map[string]any, stepErr error, canRetry bool) error {
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

// retryable reports whether a redelivery could change the outcome.
// Declines and missing payments are final.
func retryable(err error) bool {
	return !errors.Is(err, domain.ErrPaymentDeclined) &&
		!errors.Is(err, domain.ErrPaymentNotFound) &&
		!errors.Is(err, domain.ErrNotRefundable)
}
