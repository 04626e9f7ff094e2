// Package consumer wires the event-service queue into the reservation
// store: direct booking events, workflow step requests and seat
// release compensations all arrive here.
package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/internal/inventory/service"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/workflow"
)

const sourceService = "event-service"

// QueueName is the event-service's durable queue.
const QueueName = "event-service.queue"

// Bindings returns the routing patterns the event-service consumes.
func Bindings() []rabbitmq.QueueBinding {
	return []rabbitmq.QueueBinding{
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.initiated"},
		{Exchange: rabbitmq.BookingExchange, Pattern: "booking.cancelled"},
		{Exchange: rabbitmq.EventExchange, Pattern: "event.seats.*"},
		{Exchange: rabbitmq.EventExchange, Pattern: "event.availability.check"},
	}
}

// InventoryConsumer dispatches bus events to the reservation store.
type InventoryConsumer struct {
	inventory      service.InventoryService
	publisher      rabbitmq.EventPublisher
	reservationTTL time.Duration
	log            *logger.Logger
}

// NewInventoryConsumer creates the consumer.
func NewInventoryConsumer(inventory service.InventoryService, publisher rabbitmq.EventPublisher, reservationTTL time.Duration) *InventoryConsumer {
	if reservationTTL <= 0 {
		reservationTTL = service.DefaultReservationTTL
	}
	return &InventoryConsumer{
		inventory:      inventory,
		publisher:      publisher,
		reservationTTL: reservationTTL,
		log:            logger.Get().With(zap.String("component", "inventory_consumer")),
	}
}

// Handle dispatches one envelope. Unknown event types are logged and
// acknowledged so they cannot poison the queue.
func (c *InventoryConsumer) Handle(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.BookingInitiated:
		return c.onBookingInitiated(ctx, env)
	case events.SeatsReserve:
		return c.onSeatsReserve(ctx, env)
	case events.SeatsRelease:
		return c.onSeatsRelease(ctx, env)
	case events.SeatsConfirm:
		return c.onSeatsConfirm(ctx, env)
	case events.AvailabilityCheck:
		return c.onAvailabilityCheck(ctx, env)
	case events.BookingCancelled:
		// Releases ride on explicit event.seats.release commands; the
		// cancelled fact itself needs no inventory action.
		return nil
	default:
		c.log.Warn("dropping unknown event type",
			zap.String("event_type", string(env.EventType)),
			zap.String("event_id", env.EventID),
		)
		return nil
	}
}

// onBookingInitiated only acknowledges the fact. The seats are held by
// the reserve_seats workflow step; a second hold here would collide
// with the booking's own reservation.
func (c *InventoryConsumer) onBookingInitiated(ctx context.Context, env *events.Envelope) error {
	var data events.BookingInitiatedData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed booking.initiated", zap.Error(err))
		return nil
	}
	c.log.Info("booking initiated",
		zap.String("booking_id", data.BookingID),
		zap.String("event_id", data.EventID),
		zap.Int("seats", len(data.Items)),
	)
	return nil
}

// onSeatsReserve handles the reserve_seats workflow step.
func (c *InventoryConsumer) onSeatsReserve(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed seats.reserve request", zap.Error(err))
		return nil
	}

	bookingID, _ := req.Context["booking_id"].(string)
	eventID, _ := req.Context["event_id"].(string)
	userID, _ := req.Context["user_id"].(string)
	currency, _ := req.Context["currency"].(string)
	seatIDs := stringSlice(req.Context["seat_ids"])

	reservations, err := c.inventory.Reserve(ctx, &repository.ReserveParams{
		EventID:    eventID,
		UserID:     userID,
		SeatIDs:    seatIDs,
		TTL:        c.reservationTTL,
		SeatPrices: floatMap(req.Context["seat_prices"]),
		Currency:   currency,
	})
	if err != nil {
		retryable := !errors.Is(err, domain.ErrSeatConflict) && !errors.Is(err, domain.ErrSeatNotFound)
		return c.respond(ctx, env, events.SeatsReserveResponse, &req, nil, err, retryable)
	}

	outcome := &events.SeatReservedData{
		BookingID: bookingID,
		EventID:   eventID,
		UserID:    userID,
		SeatIDs:   seatIDs,
		Success:   true,
	}
	ids := make([]any, 0, len(reservations))
	for _, res := range reservations {
		ids = append(ids, res.ID)
		outcome.ReservationIDs = append(outcome.ReservationIDs, res.ID)
		outcome.ExpiresAt = res.ExpiresAt
	}
	if fact, factErr := events.New(events.SeatReserved, sourceService, outcome); factErr != nil {
		c.log.Error("failed to build seat.reserved fact", zap.Error(factErr))
	} else {
		fact.WithCorrelation(req.WorkflowID).WithCausation(env.EventID)
		if pubErr := c.publisher.Publish(ctx, fact); pubErr != nil {
			c.log.Error("failed to publish seat.reserved fact",
				zap.String("booking_id", bookingID),
				zap.Error(pubErr),
			)
		}
	}

	result := map[string]any{"reservation_ids": ids}
	return c.respond(ctx, env, events.SeatsReserveResponse, &req, result, nil, false)
}

// onSeatsRelease handles both the release command and the workflow
// compensation for reserve_seats.
func (c *InventoryConsumer) onSeatsRelease(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed seats.release request", zap.Error(err))
		return nil
	}

	source := req.Result
	if source == nil {
		source = req.Context
	}
	reservationIDs := stringSlice(source["reservation_ids"])
	if len(reservationIDs) == 0 {
		reservationIDs = stringSlice(req.Context["reservation_ids"])
	}

	reason := "released"
	if req.Compensation {
		reason = "compensation"
	}
	err := c.inventory.Release(ctx, reservationIDs, reason)
	if req.Compensation {
		return c.respond(ctx, env, events.SeatsReserveResponse, &req, nil, err, false)
	}
	return err
}

// onSeatsConfirm finalizes reservations once a booking confirmed. The
// repository makes replays of the same booking reference no-ops.
func (c *InventoryConsumer) onSeatsConfirm(ctx context.Context, env *events.Envelope) error {
	var data events.SeatsConfirmData
	if err := env.Decode(&data); err != nil {
		c.log.Warn("dropping malformed seats.confirm command", zap.Error(err))
		return nil
	}
	err := c.inventory.Confirm(ctx, data.ReservationIDs, data.BookingReference)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrReservationExpired), errors.Is(err, domain.ErrReservationNotFound):
		// The hold is gone, redelivery cannot bring it back.
		c.log.Warn("confirm lost to expiry",
			zap.String("booking_id", data.BookingID),
			zap.Error(err),
		)
		return nil
	default:
		return err
	}
}

// onAvailabilityCheck handles the check_availability workflow step.
func (c *InventoryConsumer) onAvailabilityCheck(ctx context.Context, env *events.Envelope) error {
	var req workflow.StepRequest
	if err := env.Decode(&req); err != nil {
		c.log.Warn("dropping malformed availability.check request", zap.Error(err))
		return nil
	}

	eventID, _ := req.Context["event_id"].(string)
	seatIDs := stringSlice(req.Context["seat_ids"])

	availability, err := c.inventory.CheckAvailability(ctx, eventID, seatIDs)
	if err != nil {
		retryable := !errors.Is(err, domain.ErrSeatNotFound) && !errors.Is(err, domain.ErrEventNotFound)
		return c.respond(ctx, env, events.AvailabilityCheckResponse, &req, nil, err, retryable)
	}
	for _, a := range availability {
		if !a.Available {
			return c.respond(ctx, env, events.AvailabilityCheckResponse, &req, nil, domain.ErrSeatConflict, false)
		}
	}
	return c.respond(ctx, env, events.AvailabilityCheckResponse, &req, map[string]any{"seats_available": true}, nil, false)
}

// respond publishes a StepResponse back to the orchestrator.
func (c *InventoryConsumer) respond(ctx context.Context, cause *events.Envelope, responseType events.Type, req *workflow.StepRequest, result map[string]any, stepErr error, retryable bool) error {
	resp := &workflow.StepResponse{
		WorkflowID:   req.WorkflowID,
		StepName:     req.StepName,
		Success:      stepErr == nil,
		Result:       result,
		Retryable:    retryable,
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

// floatMap reads a JSON-decoded map of numbers, as seat prices arrive
// from the workflow context.
func floatMap(v any) map[string]float64 {
	switch vals := v.(type) {
	case map[string]float64:
		return vals
	case map[string]any:
		out := make(map[string]float64, len(vals))
		for key, item := range vals {
			if f, ok := item.(float64); ok {
				out[key] = f
			}
		}
		return out
	}
	return nil
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
