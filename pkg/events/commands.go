package events

// Command and response event types used by the workflow engine. A
// request is routed to the target service's domain exchange; the
// response always comes back on the booking exchange keyed
// <step>.response with the workflow id as correlation id.
const (
	// booking_creation steps
	UserValidate              Type = "user.validate"
	UserValidateResponse      Type = "booking.validate_user.response"
	AvailabilityCheck         Type = "event.availability.check"
	AvailabilityCheckResponse Type = "booking.check_availability.response"
	PaymentIntentCreate       Type = "payment.intent.create"
	PaymentIntentResponse     Type = "booking.create_payment_intent.response"
	PaymentIntentCancel       Type = "payment.intent.cancel"

	// booking_confirmation steps
	SeatsReserve             Type = "event.seats.reserve"
	SeatsReserveResponse     Type = "booking.reserve_seats.response"
	SeatsRelease             Type = "event.seats.release"
	SeatsConfirm             Type = "event.seats.confirm"
	PaymentProcess           Type = "payment.process"
	PaymentProcessResponse   Type = "booking.process_payment.response"
	PaymentRefundRequest     Type = "payment.refund.request"
	NotificationSend         Type = "user.notification.send"
	NotificationSendResponse Type = "booking.send_confirmation.response"

	// Terminal workflow events
	BookingCreationCompleted     Type = "booking.creation.completed"
	BookingCreationFailed        Type = "booking.creation.failed"
	BookingConfirmationCompleted Type = "booking.confirmation.completed"
	BookingConfirmationFailed    Type = "booking.confirmation.failed"
)
