package di

import (
	"time"

	"github.com/eventix/eventix/internal/user/consumer"
	"github.com/eventix/eventix/internal/user/handler"
	"github.com/eventix/eventix/internal/user/repository"
	"github.com/eventix/eventix/internal/user/service"
	"github.com/eventix/eventix/pkg/database"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/redis"
)

// Container holds all dependencies for the user service
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	UserRepo         repository.UserRepository
	SessionRepo      repository.SessionRepository
	NotificationRepo repository.NotificationRepository

	// Publishers
	EventPublisher rabbitmq.EventPublisher

	// Services
	AuthService         service.AuthService
	NotificationService service.NotificationService

	// Consumers
	Consumer *consumer.UserConsumer

	// Handlers
	HealthHandler *handler.HealthHandler
	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	DB             *database.PostgresDB
	Redis          *redis.Client
	EventPublisher rabbitmq.EventPublisher

	JWTSecret         string
	JWTIssuer         string
	AccessTokenExpiry time.Duration
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:             cfg.DB,
		Redis:          cfg.Redis,
		EventPublisher: cfg.EventPublisher,
	}

	// Initialize repositories
	c.UserRepo = repository.NewPostgresUserRepository(c.DB.Pool())
	c.SessionRepo = repository.NewRedisSessionRepository(c.Redis)
	c.NotificationRepo = repository.NewPostgresNotificationRepository(c.DB.Pool())

	// Initialize services
	c.AuthService = service.NewAuthService(c.UserRepo, c.SessionRepo, &service.AuthServiceConfig{
		JWTSecret:         cfg.JWTSecret,
		Issuer:            cfg.JWTIssuer,
		AccessTokenExpiry: cfg.AccessTokenExpiry,
	})
	c.NotificationService = service.NewNotificationService(c.NotificationRepo)

	// Initialize consumers
	c.Consumer = consumer.NewUserConsumer(c.AuthService, c.NotificationService, c.EventPublisher)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis)
	c.AuthHandler = handler.NewAuthHandler(c.AuthService)
	c.UserHandler = handler.NewUserHandler(c.AuthService, c.NotificationService)

	return c
}
