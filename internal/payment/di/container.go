package di

import (
	"fmt"

	"github.com/eventix/eventix/internal/payment/consumer"
	"github.com/eventix/eventix/internal/payment/gateway"
	"github.com/eventix/eventix/internal/payment/handler"
	"github.com/eventix/eventix/internal/payment/repository"
	"github.com/eventix/eventix/internal/payment/service"
	"github.com/eventix/eventix/pkg/database"
	"github.com/eventix/eventix/pkg/rabbitmq"
)

// Container holds all dependencies for the payment service
type Container struct {
	// Infrastructure
	DB *database.PostgresDB

	// Repositories
	PaymentRepo repository.PaymentRepository

	// Publishers
	EventPublisher rabbitmq.EventPublisher

	// Gateway
	Gateway gateway.PaymentGateway

	// Services
	PaymentService service.PaymentService

	// Consumers
	Consumer *consumer.PaymentConsumer

	// Handlers
	HealthHandler  *handler.HealthHandler
	PaymentHandler *handler.PaymentHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	EventPublisher rabbitmq.EventPublisher

	// Provider selects the gateway, "stripe" or "mock".
	Provider     string
	StripeAPIKey string
	Environment  string
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	c := &Container{
		DB:             cfg.DB,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize repositories
	c.PaymentRepo = repository.NewPostgresPaymentRepository(c.DB.Pool())

	// Initialize gateway
	switch cfg.Provider {
	case "stripe":
		gw, err := gateway.NewStripeGateway(&gateway.StripeConfig{
			SecretKey:   cfg.StripeAPIKey,
			Environment: cfg.Environment,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize stripe gateway: %w", err)
		}
		c.Gateway = gw
	case "mock", "":
		c.Gateway = gateway.NewMockGateway(nil)
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
	}

	// Initialize services
	c.PaymentService = service.NewPaymentService(c.PaymentRepo, c.Gateway, c.EventPublisher)

	// Initialize consumers
	c.Consumer = consumer.NewPaymentConsumer(c.PaymentService, c.EventPublisher)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB)
	c.PaymentHandler = handler.NewPaymentHandler(c.PaymentService)

	return c, nil
}
