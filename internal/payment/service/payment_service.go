package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/internal/payment/gateway"
	"github.com/eventix/eventix/internal/payment/repository"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

const serviceName = "payment-service"

// PaymentService owns the payment lifecycle. Payments arrive from two
// directions, the booking.initiated event and the HTTP API, and both
// converge on the same row through UpsertPending, so whichever path
// runs second simply sees the existing payment.
type PaymentService interface {
	// EnsurePayment returns the payment for the booking, creating a
	// PENDING one when none exists yet.
	EnsurePayment(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error)

	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error)

	// CreateIntent authorizes a hold with the provider and records the
	// reference on the payment.
	CreateIntent(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error)
	// CancelIntent voids the hold and cancels a still PENDING payment.
	CancelIntent(ctx context.Context, bookingID string) error

	// Process captures the hold and settles the payment, publishing
	// payment.completed or payment.failed.
	Process(ctx context.Context, bookingID string) (*domain.Payment, error)

	// RefundPayment refunds a COMPLETED payment and publishes
	// payment.refunded.
	RefundPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
}

type paymentService struct {
	payments  repository.PaymentRepository
	gateway   gateway.PaymentGateway
	publisher rabbitmq.EventPublisher
	log       *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(payments repository.PaymentRepository, gw gateway.PaymentGateway, publisher rabbitmq.EventPublisher) PaymentService {
	return &paymentService{
		payments:  payments,
		gateway:   gw,
		publisher: publisher,
		log:       logger.Get().With(zap.String("component", "payment_service")).Zap(),
	}
}

func (s *paymentService) EnsurePayment(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error) {
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		BookingID: bookingID,
		UserID:    userID,
		Amount:    amount,
		Currency:  currency,
		Status:    domain.PaymentPending,
	}

	stored, created, err := s.payments.UpsertPending(ctx, payment)
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("payment created",
			zap.String("payment_id", stored.ID),
			zap.String("booking_id", bookingID))
		s.publish(ctx, events.PaymentInitiated, stored, "")
	}
	return stored, nil
}

func (s *paymentService) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *paymentService) GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return s.payments.GetByBookingID(ctx, bookingID)
}

func (s *paymentService) CreateIntent(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error) {
	payment, err := s.EnsurePayment(ctx, bookingID, userID, amount, currency)
	if err != nil {
		return nil, err
	}

	// Re-entrant on replay: the hold already exists.
	if payment.ProviderRef != "" {
		return payment, nil
	}
	if payment.Status != domain.PaymentPending {
		return nil, fmt.Errorf("cannot create intent for %s payment %s", payment.Status, payment.ID)
	}

	auth, err := s.gateway.Authorize(ctx, &gateway.AuthorizeRequest{
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Metadata:  map[string]string{"booking_id": payment.BookingID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authorize payment: %w", err)
	}

	if err := s.payments.SetIntent(ctx, payment.ID, auth.ProviderRef, auth.ProviderRef); err != nil {
		return nil, err
	}
	payment.IntentRef = auth.ProviderRef
	payment.ProviderRef = auth.ProviderRef

	s.log.Info("payment intent created",
		zap.String("payment_id", payment.ID),
		zap.String("provider_ref", auth.ProviderRef),
		zap.String("gateway", s.gateway.Name()))
	return payment, nil
}

func (s *paymentService) CancelIntent(ctx context.Context, bookingID string) error {
	payment, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		if err == domain.ErrPaymentNotFound {
			return nil
		}
		return err
	}

	cancelled, err := s.payments.CancelPending(ctx, payment.ID)
	if err != nil {
		return err
	}
	if !cancelled {
		// Already past PENDING, nothing to void.
		return nil
	}

	if err := s.gateway.Cancel(ctx, payment.ID, payment.ProviderRef); err != nil {
		s.log.Warn("failed to void provider hold",
			zap.String("payment_id", payment.ID), zap.Error(err))
	}
	s.log.Info("payment cancelled", zap.String("payment_id", payment.ID))
	return nil
}

func (s *paymentService) Process(ctx context.Context, bookingID string) (*domain.Payment, error) {
	payment, err := s.payments.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	moved, err := s.payments.MarkProcessing(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Replayed command: report the settled outcome without
		// touching the provider again.
		current, err := s.payments.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case domain.PaymentCompleted:
			return current, nil
		case domain.PaymentFailed:
			return current, domain.ErrPaymentDeclined
		case domain.PaymentProcessing:
			// An earlier attempt stopped before recording the outcome.
			// Re-drive it; the provider dedupes on the payment id.
			payment = current
		default:
			return nil, fmt.Errorf("cannot process %s payment %s", current.Status, current.ID)
		}
	}

	providerRef := payment.ProviderRef
	if providerRef == "" {
		auth, err := s.gateway.Authorize(ctx, &gateway.AuthorizeRequest{
			PaymentID: payment.ID,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Metadata:  map[string]string{"booking_id": payment.BookingID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize payment: %w", err)
		}
		providerRef = auth.ProviderRef
		if err := s.payments.SetIntent(ctx, payment.ID, providerRef, providerRef); err != nil {
			return nil, err
		}
	}

	capture, err := s.gateway.Capture(ctx, payment.ID, providerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	if !capture.Success {
		if _, err := s.payments.Fail(ctx, payment.ID, capture.FailureReason); err != nil {
			return nil, err
		}
		payment.Status = domain.PaymentFailed
		payment.FailureReason = capture.FailureReason
		s.log.Warn("payment declined",
			zap.String("payment_id", payment.ID),
			zap.String("reason", capture.FailureReason))
		s.publish(ctx, events.PaymentFailed, payment, capture.FailureReason)
		return payment, domain.ErrPaymentDeclined
	}

	if _, err := s.payments.Complete(ctx, payment.ID, capture.ProviderRef); err != nil {
		return nil, err
	}
	payment.Status = domain.PaymentCompleted
	payment.ProviderRef = capture.ProviderRef

	s.log.Info("payment completed",
		zap.String("payment_id", payment.ID),
		zap.String("booking_id", payment.BookingID),
		zap.Float64("amount", payment.Amount))
	s.publish(ctx, events.PaymentCompleted, payment, "")
	return payment, nil
}

func (s *paymentService) RefundPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status == domain.PaymentRefunded {
		return payment, nil
	}
	if payment.Status != domain.PaymentCompleted {
		return nil, domain.ErrNotRefundable
	}

	result, err := s.gateway.Refund(ctx, payment.ID, payment.ProviderRef, payment.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}

	refunded, err := s.payments.Refund(ctx, payment.ID, result.RefundRef)
	if err != nil {
		return nil, err
	}
	if !refunded {
		// Lost the race to a concurrent refund of the same payment.
		return s.payments.GetByID(ctx, payment.ID)
	}
	payment.Status = domain.PaymentRefunded
	payment.RefundRef = result.RefundRef

	s.log.Info("payment refunded",
		zap.String("payment_id", payment.ID),
		zap.String("refund_ref", result.RefundRef),
		zap.String("reason", reason))
	s.publish(ctx, events.PaymentRefunded, payment, reason)
	return payment, nil
}

func (s *paymentService) publish(ctx context.Context, eventType events.Type, payment *domain.Payment, reason string) {
	env, err := events.New(eventType, serviceName, &events.PaymentData{
		PaymentID:   payment.ID,
		BookingID:   payment.BookingID,
		UserID:      payment.UserID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		ProviderRef: payment.ProviderRef,
		Reason:      reason,
	})
	if err != nil {
		s.log.Error("failed to build event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, env.WithUser(payment.UserID)); err != nil {
		s.log.Error("failed to publish event",
			zap.String("type", string(eventType)),
			zap.String("payment_id", payment.ID),
			zap.Error(err))
	}
}
