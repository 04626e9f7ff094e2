package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

const serviceName = "event-service"

// DefaultReservationTTL is the hold window for a pending reservation.
const DefaultReservationTTL = 15 * time.Minute

// InventoryService exposes the seat reservation store.
type InventoryService interface {
	// CheckAvailability answers the advisory availability query
	CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error)
	// Reserve atomically holds all seats for the user or fails whole
	Reserve(ctx context.Context, params *repository.ReserveParams) ([]*domain.Reservation, error)
	// Confirm finalizes reservations under a booking reference
	Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error
	// Release frees reservations and publishes event.seat.released
	Release(ctx context.Context, reservationIDs []string, reason string) error
	// SweepExpired expires overdue holds and publishes their release
	SweepExpired(ctx context.Context) (int, error)
}

type inventoryService struct {
	repo      repository.InventoryRepository
	publisher rabbitmq.EventPublisher
	log       *logger.Logger
}

// NewInventoryService creates the reservation store service.
func NewInventoryService(repo repository.InventoryRepository, publisher rabbitmq.EventPublisher) InventoryService {
	return &inventoryService{
		repo:      repo,
		publisher: publisher,
		log:       logger.Get().With(zap.String("component", "inventory")),
	}
}

func (s *inventoryService) CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error) {
	return s.repo.CheckAvailability(ctx, eventID, seatIDs)
}

func (s *inventoryService) Reserve(ctx context.Context, params *repository.ReserveParams) ([]*domain.Reservation, error) {
	if params.TTL <= 0 {
		params.TTL = DefaultReservationTTL
	}
	reservations, err := s.repo.Reserve(ctx, params)
	if err != nil {
		return nil, err
	}
	s.log.Info("seats reserved",
		zap.String("event_id", params.EventID),
		zap.String("user_id", params.UserID),
		zap.Int("seats", len(reservations)),
	)
	return reservations, nil
}

func (s *inventoryService) Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error {
	if err := s.repo.Confirm(ctx, reservationIDs, bookingRef); err != nil {
		return err
	}
	s.log.Info("reservations confirmed",
		zap.Strings("reservation_ids", reservationIDs),
		zap.String("booking_ref", bookingRef),
	)
	return nil
}

func (s *inventoryService) Release(ctx context.Context, reservationIDs []string, reason string) error {
	reservations, err := s.repo.GetReservations(ctx, reservationIDs)
	if err != nil {
		return err
	}
	if err := s.repo.Release(ctx, reservationIDs); err != nil {
		return err
	}
	s.publishReleased(ctx, reservations, reason)
	return nil
}

func (s *inventoryService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	s.publishReleased(ctx, expired, "expired")
	s.log.Info("expired reservations swept", zap.Int("count", len(expired)))
	return len(expired), nil
}

// publishReleased groups reservations by event and publishes one
// event.seat.released per event. Publish failures are logged, the
// release itself already committed and duplicate consumers reconcile
// against stored state.
func (s *inventoryService) publishReleased(ctx context.Context, reservations []*domain.Reservation, reason string) {
	byEvent := make(map[string]*events.SeatReleasedData)
	for _, res := range reservations {
		data, ok := byEvent[res.EventID]
		if !ok {
			data = &events.SeatReleasedData{EventID: res.EventID, Reason: reason}
			byEvent[res.EventID] = data
		}
		data.SeatIDs = append(data.SeatIDs, res.SeatID)
		data.ReservationIDs = append(data.ReservationIDs, res.ID)
	}
	for _, data := range byEvent {
		env, err := events.New(events.SeatReleased, serviceName, data)
		if err != nil {
			s.log.Error("failed to build seat.released event", zap.Error(err))
			continue
		}
		if err := s.publisher.Publish(ctx, env); err != nil {
			s.log.Error("failed to publish seat.released",
				zap.String("event_id", data.EventID),
				zap.Error(err),
			)
		}
	}
}
