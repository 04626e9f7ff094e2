package di

import (
	"time"

	"github.com/eventix/eventix/internal/booking/consumer"
	"github.com/eventix/eventix/internal/booking/handler"
	"github.com/eventix/eventix/internal/booking/repository"
	"github.com/eventix/eventix/internal/booking/service"
	"github.com/eventix/eventix/internal/booking/worker"
	"github.com/eventix/eventix/pkg/database"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/workflow"
)

// Container holds all dependencies for the booking service
type Container struct {
	// Infrastructure
	DB *database.PostgresDB

	// Repositories
	BookingRepo repository.BookingRepository

	// Publishers
	EventPublisher rabbitmq.EventPublisher

	// Workflow engine
	WorkflowStore workflow.Store
	Orchestrator  *workflow.Orchestrator

	// Services
	BookingService service.BookingService

	// Consumers and workers
	Consumer     *consumer.BookingConsumer
	ExpiryWorker *worker.ExpiryWorker

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	EventPublisher rabbitmq.EventPublisher
	BookingExpiry  time.Duration
	ExpiryInterval time.Duration
	GlobalTimeout  time.Duration
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	c := &Container{
		DB:             cfg.DB,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize repositories
	c.BookingRepo = repository.NewPostgresBookingRepository(c.DB.Pool())

	// Initialize the workflow engine
	c.WorkflowStore = workflow.NewPostgresStore(c.DB.Pool())
	c.Orchestrator = workflow.NewOrchestrator(&workflow.Config{
		Service:   "booking-service",
		Store:     c.WorkflowStore,
		Publisher: c.EventPublisher,
	})

	creation := service.CreationWorkflow()
	confirmation := service.ConfirmationWorkflow()
	if cfg.GlobalTimeout > 0 {
		creation.WithGlobalTimeout(cfg.GlobalTimeout)
		confirmation.WithGlobalTimeout(cfg.GlobalTimeout)
	}
	if err := c.Orchestrator.Register(creation); err != nil {
		return nil, err
	}
	if err := c.Orchestrator.Register(confirmation); err != nil {
		return nil, err
	}

	// Initialize services
	c.BookingService = service.NewBookingService(c.BookingRepo, c.EventPublisher, c.Orchestrator, &service.Config{
		Expiry: cfg.BookingExpiry,
	})

	// Initialize consumers and workers
	c.Consumer = consumer.NewBookingConsumer(c.BookingService, c.Orchestrator)
	c.ExpiryWorker = worker.NewExpiryWorker(c.BookingService, cfg.ExpiryInterval)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)

	return c, nil
}
