package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/booking/domain"
	"github.com/eventix/eventix/internal/booking/repository"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/workflow"
)

const serviceName = "booking-service"

// WorkflowStarter launches workflows. Satisfied by the orchestrator.
type WorkflowStarter interface {
	Start(ctx context.Context, workflowType string, wfContext map[string]any) (*workflow.Instance, error)
}

// CancelPolicy decides whether a CONFIRMED booking may still be
// cancelled by its owner. The default permits cancellation until the
// confirmation is an hour old.
type CancelPolicy func(booking *domain.Booking, now time.Time) bool

// DefaultCancelPolicy allows cancelling a confirmed booking within an
// hour of confirmation.
func DefaultCancelPolicy(booking *domain.Booking, now time.Time) bool {
	if booking.ConfirmedAt == nil {
		return true
	}
	return now.Sub(*booking.ConfirmedAt) < time.Hour
}

// BookingService is the booking state machine. HTTP calls drive Create
// and Cancel; the On* methods apply bus events against stored state.
type BookingService interface {
	Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, string, error)
	GetByID(ctx context.Context, userID, id string) (*domain.Booking, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, int, error)
	Cancel(ctx context.Context, userID, id string) (*domain.Booking, error)

	OnSeatsReserved(ctx context.Context, busEventID string, data *events.SeatReservedData) error
	OnPaymentCompleted(ctx context.Context, busEventID string, data *events.PaymentData) error
	OnPaymentFailed(ctx context.Context, busEventID string, data *events.PaymentData) error
	OnPaymentRefunded(ctx context.Context, busEventID string, data *events.PaymentData) error
	OnWorkflowOutcome(ctx context.Context, busEventID, bookingID, workflowType string, success bool, reason string) error

	ExpireOverdue(ctx context.Context) (int, error)
}

// Config tunes the booking service.
type Config struct {
	Expiry       time.Duration
	CancelPolicy CancelPolicy
}

type bookingService struct {
	repo      repository.BookingRepository
	publisher rabbitmq.EventPublisher
	workflows WorkflowStarter
	expiry    time.Duration
	canCancel CancelPolicy
	log       *logger.Logger
}

// NewBookingService creates the booking state machine service.
func NewBookingService(repo repository.BookingRepository, publisher rabbitmq.EventPublisher, workflows WorkflowStarter, cfg *Config) BookingService {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = domain.DefaultExpiry
	}
	if cfg.CancelPolicy == nil {
		cfg.CancelPolicy = DefaultCancelPolicy
	}
	return &bookingService{
		repo:      repo,
		publisher: publisher,
		workflows: workflows,
		expiry:    cfg.Expiry,
		canCancel: cfg.CancelPolicy,
		log:       logger.Get().With(zap.String("component", "booking")),
	}
}

// Create validates and persists a PENDING booking, publishes
// booking.initiated and starts the booking_creation workflow. The
// returned string is the workflow id, surfaced to the caller as
// correlation id.
func (s *bookingService) Create(ctx context.Context, booking *domain.Booking) (*domain.Booking, string, error) {
	if len(booking.Items) == 0 {
		return nil, "", domain.ErrNoItems
	}
	if math.Abs(booking.ItemsTotal()-booking.TotalAmount) > 0.005 {
		return nil, "", domain.ErrTotalMismatch
	}

	now := time.Now().UTC()
	booking.ID = uuid.New().String()
	booking.BookingReference = domain.NewBookingReference(now)
	booking.Status = domain.BookingPending
	booking.ExpiryDate = now.Add(s.expiry)
	booking.CreatedAt = now
	booking.UpdatedAt = now
	for _, item := range booking.Items {
		item.ID = uuid.New().String()
		item.BookingID = booking.ID
		if item.TotalPrice == 0 {
			item.TotalPrice = item.UnitPrice * float64(item.Quantity)
		}
	}

	if err := s.repo.Create(ctx, booking); err != nil {
		return nil, "", err
	}

	seatIDs := make([]string, 0, len(booking.Items))
	seatPrices := make(map[string]float64, len(booking.Items))
	items := make([]events.BookingItem, 0, len(booking.Items))
	for _, item := range booking.Items {
		seatIDs = append(seatIDs, item.SeatID)
		seatPrices[item.SeatID] = item.UnitPrice
		items = append(items, events.BookingItem{SeatID: item.SeatID, Price: item.UnitPrice})
	}

	instance, err := s.workflows.Start(ctx, WorkflowBookingCreation, map[string]any{
		"booking_id":        booking.ID,
		"booking_reference": booking.BookingReference,
		"user_id":           booking.UserID,
		"event_id":          booking.EventID,
		"seat_ids":          seatIDs,
		"seat_prices":       seatPrices,
		"total_amount":      booking.TotalAmount,
		"currency":          booking.Currency,
		"customer_email":    booking.CustomerEmail,
		"customer_name":     booking.CustomerName,
	})
	if err != nil {
		return nil, "", err
	}

	env, err := events.New(events.BookingInitiated, serviceName, &events.BookingInitiatedData{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		UserID:           booking.UserID,
		EventID:          booking.EventID,
		Items:            items,
		TotalAmount:      booking.TotalAmount,
		Currency:         booking.Currency,
		ExpiryDate:       booking.ExpiryDate,
	})
	if err != nil {
		return nil, "", err
	}
	env.WithCorrelation(instance.WorkflowID).WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish booking.initiated",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}

	s.log.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("booking_reference", booking.BookingReference),
		zap.String("workflow_id", instance.WorkflowID),
	)
	return booking, instance.WorkflowID, nil
}

// GetByID returns the booking when it belongs to the user.
func (s *bookingService) GetByID(ctx context.Context, userID, id string) (*domain.Booking, error) {
	booking, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

func (s *bookingService) List(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// Cancel handles a user-initiated cancellation. A PENDING booking is
// cancelled outright; a CONFIRMED one additionally requests a refund,
// subject to the cancel policy.
func (s *bookingService) Cancel(ctx context.Context, userID, id string) (*domain.Booking, error) {
	booking, err := s.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !booking.Status.Cancellable() {
		return nil, domain.ErrNotCancellable
	}
	wasConfirmed := booking.Status == domain.BookingConfirmed
	if wasConfirmed && !s.canCancel(booking, time.Now().UTC()) {
		return nil, domain.ErrNotCancellable
	}

	moved, err := s.repo.Transition(ctx, id,
		[]domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed},
		domain.BookingCancelled, domain.ReasonUserCancelled)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, domain.ErrNotCancellable
	}

	s.publishCancelled(ctx, booking, domain.ReasonUserCancelled)
	s.releaseSeats(ctx, booking)
	if wasConfirmed && booking.PaymentID != "" {
		s.requestRefund(ctx, booking)
	}

	return s.repo.GetByID(ctx, id)
}

// OnSeatsReserved records reservation ids on success, or cancels the
// booking when the reservation attempt failed.
func (s *bookingService) OnSeatsReserved(ctx context.Context, busEventID string, data *events.SeatReservedData) error {
	if data.Success {
		// A replay writes the same ids again.
		return s.repo.SetReservations(ctx, data.BookingID, data.ReservationIDs)
	}
	return s.cancelFromEvent(ctx, data.BookingID, busEventID, domain.ReasonSeatsUnavailable,
		[]domain.BookingStatus{domain.BookingPending})
}

// OnPaymentCompleted confirms the booking. The expiry gate is checked
// first: a payment landing after the hold ran out expires the booking
// instead of confirming it.
func (s *bookingService) OnPaymentCompleted(ctx context.Context, busEventID string, data *events.PaymentData) error {
	booking, err := s.repo.GetByID(ctx, data.BookingID)
	if err != nil {
		return err
	}
	if booking.PastExpiry(time.Now().UTC()) {
		return s.expire(ctx, booking)
	}

	moved, fresh, err := s.repo.TransitionOnEvent(ctx, booking.ID, busEventID,
		[]domain.BookingStatus{domain.BookingPending},
		domain.BookingConfirmed, "")
	if err != nil {
		return err
	}
	if !fresh || !moved {
		// Replay, or a late event against a settled booking.
		return nil
	}
	if data.PaymentID != "" {
		if err := s.repo.SetPaymentID(ctx, booking.ID, data.PaymentID); err != nil {
			s.log.Error("failed to link payment id",
				zap.String("booking_id", booking.ID),
				zap.String("payment_id", data.PaymentID),
				zap.Error(err),
			)
		}
	}

	s.confirmSeats(ctx, booking)
	s.publishConfirmed(ctx, booking)
	return nil
}

// OnPaymentFailed cancels the booking and frees its seats.
func (s *bookingService) OnPaymentFailed(ctx context.Context, busEventID string, data *events.PaymentData) error {
	return s.cancelFromEvent(ctx, data.BookingID, busEventID, domain.ReasonPaymentFailed,
		[]domain.BookingStatus{domain.BookingPending})
}

// OnPaymentRefunded finishes a cancelled booking's refund.
func (s *bookingService) OnPaymentRefunded(ctx context.Context, busEventID string, data *events.PaymentData) error {
	_, _, err := s.repo.TransitionOnEvent(ctx, data.BookingID, busEventID,
		[]domain.BookingStatus{domain.BookingCancelled},
		domain.BookingRefunded, "")
	return err
}

// OnWorkflowOutcome applies a terminal workflow event: a completed
// booking_creation starts booking_confirmation, any compensated
// workflow cancels the booking. A completed booking_confirmation needs
// nothing here, confirmation rides on payment.completed.
func (s *bookingService) OnWorkflowOutcome(ctx context.Context, busEventID, bookingID, workflowType string, success bool, reason string) error {
	booking, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != domain.BookingPending {
		return nil
	}

	if !success {
		if reason == "" {
			reason = domain.ReasonSeatsUnavailable
		}
		return s.cancelFromEvent(ctx, bookingID, busEventID, reason,
			[]domain.BookingStatus{domain.BookingPending})
	}
	if workflowType != WorkflowBookingCreation {
		return nil
	}

	// The guard keeps a redelivery from starting a second confirmation
	// workflow. A crash between the mark and Start leaves the booking
	// PENDING for the expiry sweeper.
	fresh, err := s.repo.MarkProcessed(ctx, bookingID, busEventID)
	if err != nil || !fresh {
		return err
	}

	seatIDs := make([]string, 0, len(booking.Items))
	seatPrices := make(map[string]float64, len(booking.Items))
	for _, item := range booking.Items {
		seatIDs = append(seatIDs, item.SeatID)
		seatPrices[item.SeatID] = item.UnitPrice
	}
	instance, err := s.workflows.Start(ctx, WorkflowBookingConfirmation, map[string]any{
		"booking_id":        booking.ID,
		"booking_reference": booking.BookingReference,
		"user_id":           booking.UserID,
		"event_id":          booking.EventID,
		"seat_ids":          seatIDs,
		"seat_prices":       seatPrices,
		"total_amount":      booking.TotalAmount,
		"currency":          booking.Currency,
		"customer_email":    booking.CustomerEmail,
		"customer_name":     booking.CustomerName,
	})
	if err != nil {
		return err
	}
	s.log.Info("confirmation workflow started",
		zap.String("booking_id", booking.ID),
		zap.String("workflow_id", instance.WorkflowID),
	)
	return nil
}

// ExpireOverdue moves PENDING bookings past their expiry to EXPIRED
// and frees their seats.
func (s *bookingService) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.repo.ListExpired(ctx, time.Now().UTC(), 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, booking := range overdue {
		if err := s.expire(ctx, booking); err != nil {
			s.log.Error("failed to expire booking",
				zap.String("booking_id", booking.ID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *bookingService) expire(ctx context.Context, booking *domain.Booking) error {
	moved, err := s.repo.Transition(ctx, booking.ID,
		[]domain.BookingStatus{domain.BookingPending},
		domain.BookingExpired, domain.ReasonExpired)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	s.publishCancelled(ctx, booking, domain.ReasonExpired)
	s.releaseSeats(ctx, booking)
	return nil
}

func (s *bookingService) cancelFromEvent(ctx context.Context, bookingID, busEventID, reason string, from []domain.BookingStatus) error {
	booking, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return err
	}
	moved, fresh, err := s.repo.TransitionOnEvent(ctx, bookingID, busEventID,
		from, domain.BookingCancelled, reason)
	if err != nil {
		return err
	}
	if !fresh || !moved {
		return nil
	}
	s.publishCancelled(ctx, booking, reason)
	s.releaseSeats(ctx, booking)
	return nil
}

// confirmSeats asks the reservation store to finalize the holds. The
// command is idempotent per booking reference.
func (s *bookingService) confirmSeats(ctx context.Context, booking *domain.Booking) {
	if len(booking.ReservationIDs) == 0 {
		return
	}
	env, err := events.New(events.SeatsConfirm, serviceName, &events.SeatsConfirmData{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		ReservationIDs:   booking.ReservationIDs,
	})
	if err != nil {
		s.log.Error("failed to build seats.confirm", zap.Error(err))
		return
	}
	env.WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish seats.confirm",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}

func (s *bookingService) releaseSeats(ctx context.Context, booking *domain.Booking) {
	if len(booking.ReservationIDs) == 0 {
		return
	}
	env, err := events.New(events.SeatsRelease, serviceName, &workflow.StepRequest{
		Context: map[string]any{"reservation_ids": booking.ReservationIDs},
	})
	if err != nil {
		s.log.Error("failed to build seats.release", zap.Error(err))
		return
	}
	env.WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish seats.release",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}

func (s *bookingService) requestRefund(ctx context.Context, booking *domain.Booking) {
	env, err := events.New(events.PaymentRefundRequest, serviceName, &events.PaymentData{
		PaymentID: booking.PaymentID,
		BookingID: booking.ID,
		UserID:    booking.UserID,
		Amount:    booking.TotalAmount,
		Currency:  booking.Currency,
		Reason:    domain.ReasonUserCancelled,
	})
	if err != nil {
		s.log.Error("failed to build refund request", zap.Error(err))
		return
	}
	env.WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish refund request",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}

func (s *bookingService) publishConfirmed(ctx context.Context, booking *domain.Booking) {
	env, err := events.New(events.BookingConfirmed, serviceName, &events.BookingConfirmedData{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		UserID:           booking.UserID,
		EventID:          booking.EventID,
		TotalAmount:      booking.TotalAmount,
		Currency:         booking.Currency,
	})
	if err != nil {
		s.log.Error("failed to build booking.confirmed", zap.Error(err))
		return
	}
	env.WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish booking.confirmed",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}

func (s *bookingService) publishCancelled(ctx context.Context, booking *domain.Booking, reason string) {
	env, err := events.New(events.BookingCancelled, serviceName, &events.BookingCancelledData{
		BookingID:        booking.ID,
		BookingReference: booking.BookingReference,
		UserID:           booking.UserID,
		EventID:          booking.EventID,
		Reason:           reason,
	})
	if err != nil {
		s.log.Error("failed to build booking.cancelled", zap.Error(err))
		return
	}
	env.WithUser(booking.UserID)
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish booking.cancelled",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
	}
}
