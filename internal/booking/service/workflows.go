package service

import (
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/workflow"
)

// Workflow type names registered by the booking service.
const (
	WorkflowBookingCreation     = "booking_creation"
	WorkflowBookingConfirmation = "booking_confirmation"
)

// CreationWorkflow validates the purchase before any seat is held:
// the user must exist, the seats must look available and a payment
// intent must be created. None of these steps hold resources, so only
// the payment intent carries a compensation.
func CreationWorkflow() *workflow.Definition {
	return workflow.NewDefinition(WorkflowBookingCreation, events.BookingCreationCompleted, events.BookingCreationFailed).
		AddStep(&workflow.StepDefinition{
			Name:          "validate_user",
			TargetService: "user-service",
			RequestEvent:  events.UserValidate,
			ResponseEvent: events.UserValidateResponse,
		}).
		AddStep(&workflow.StepDefinition{
			Name:          "check_availability",
			TargetService: "event-service",
			RequestEvent:  events.AvailabilityCheck,
			ResponseEvent: events.AvailabilityCheckResponse,
		}).
		AddStep(&workflow.StepDefinition{
			Name:              "create_payment_intent",
			TargetService:     "payment-service",
			RequestEvent:      events.PaymentIntentCreate,
			ResponseEvent:     events.PaymentIntentResponse,
			CompensationEvent: events.PaymentIntentCancel,
		})
}

// ConfirmationWorkflow takes a validated booking to CONFIRMED: hold
// the seats, take the money, send the confirmation. Seats and payment
// are compensated in reverse on failure; a lost confirmation mail is
// not worth unwinding a paid booking.
func ConfirmationWorkflow() *workflow.Definition {
	return workflow.NewDefinition(WorkflowBookingConfirmation, events.BookingConfirmationCompleted, events.BookingConfirmationFailed).
		AddStep(&workflow.StepDefinition{
			Name:              "reserve_seats",
			TargetService:     "event-service",
			RequestEvent:      events.SeatsReserve,
			ResponseEvent:     events.SeatsReserveResponse,
			CompensationEvent: events.SeatsRelease,
		}).
		AddStep(&workflow.StepDefinition{
			Name:              "process_payment",
			TargetService:     "payment-service",
			RequestEvent:      events.PaymentProcess,
			ResponseEvent:     events.PaymentProcessResponse,
			CompensationEvent: events.PaymentRefundRequest,
		}).
		AddStep(&workflow.StepDefinition{
			Name:          "send_confirmation",
			TargetService: "user-service",
			RequestEvent:  events.NotificationSend,
			ResponseEvent: events.NotificationSendResponse,
		})
}
