package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

// EventService manages the event catalog.
type EventService interface {
	Create(ctx context.Context, event *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Event, int, error)
	Publish(ctx context.Context, id string) error
}

type eventService struct {
	repo      repository.EventRepository
	publisher rabbitmq.EventPublisher
	log       *logger.Logger
}

// NewEventService creates the catalog service.
func NewEventService(repo repository.EventRepository, publisher rabbitmq.EventPublisher) EventService {
	return &eventService{
		repo:      repo,
		publisher: publisher,
		log:       logger.Get().With(zap.String("component", "event_catalog")),
	}
}

func (s *eventService) Create(ctx context.Context, event *domain.Event) error {
	if err := s.repo.Create(ctx, event); err != nil {
		return err
	}

	env, err := events.New(events.EventCreated, serviceName, &events.EventCreatedData{
		EventID:    event.ID,
		Name:       event.Name,
		Venue:      event.Venue,
		StartsAt:   event.StartsAt,
		TotalSeats: event.TotalSeats,
	})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish event.created",
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *eventService) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *eventService) List(ctx context.Context, limit, offset int) ([]*domain.Event, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *eventService) Publish(ctx context.Context, id string) error {
	if err := s.repo.UpdateStatus(ctx, id, domain.EventPublished); err != nil {
		return err
	}
	env, err := events.New(events.EventPublished, serviceName, map[string]string{"event_id": id})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.Error("failed to publish event.published", zap.Error(err))
	}
	return nil
}
