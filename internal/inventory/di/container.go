package di

import (
	"time"

	"github.com/eventix/eventix/internal/inventory/consumer"
	"github.com/eventix/eventix/internal/inventory/handler"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/internal/inventory/service"
	"github.com/eventix/eventix/internal/inventory/worker"
	"github.com/eventix/eventix/pkg/database"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

// Container holds all dependencies for the event service
type Container struct {
	// Infrastructure
	DB *database.PostgresDB

	// Repositories
	EventRepo     repository.EventRepository
	InventoryRepo repository.InventoryRepository

	// Publishers
	EventPublisher rabbitmq.EventPublisher

	// Services
	EventService     service.EventService
	InventoryService service.InventoryService

	// Consumers and workers
	Consumer *consumer.InventoryConsumer
	Sweeper  *worker.Sweeper

	// Handlers
	HealthHandler *handler.HealthHandler
	EventHandler  *handler.EventHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	EventPublisher rabbitmq.EventPublisher
	ReservationTTL time.Duration
	SweepInterval  time.Duration
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		EventPublisher: cfg.EventPublisher,
	}

	reservationTTL := cfg.ReservationTTL
	if reservationTTL <= 0 {
		reservationTTL = service.DefaultReservationTTL
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = worker.DefaultSweepInterval
	}

	// Initialize repositories
	c.EventRepo = repository.NewPostgresEventRepository(c.DB.Pool())
	c.InventoryRepo = repository.NewPostgresInventoryRepository(c.DB.Pool())

	// Initialize services
	c.EventService = service.NewEventService(c.EventRepo, c.EventPublisher)
	c.InventoryService = service.NewInventoryService(c.InventoryRepo, c.EventPublisher)

	// Initialize consumers and workers
	c.Consumer = consumer.NewInventoryConsumer(c.InventoryService, c.EventPublisher, reservationTTL)
	c.Sweeper = worker.NewSweeper(c.InventoryService, sweepInterval)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB)
	c.EventHandler = handler.NewEventHandler(c.EventService, c.InventoryService)

	return c
}
