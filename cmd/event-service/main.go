package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/inventory/consumer"
	"github.com/eventix/eventix/internal/inventory/di"
	"github.com/eventix/eventix/pkg/config"
	"github.com/eventix/eventix/pkg/database"
	"github.com/eventix/eventix/pkg/logger"
	"github.com/eventix/eventix/pkg/rabbitmq"
	"github.com/eventix/eventix/pkg/telemetry"
)

const serviceName = "event-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateEventDatabase(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       "info",
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting event service")

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	db, err := database.NewPostgres(ctx, postgresConfig(&cfg.EventDatabase, cfg.OTel.Enabled))
	if err != nil {
		appLog.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()
	appLog.Info("Database connected", zap.String("dbname", cfg.EventDatabase.DBName))

	mq, err := rabbitmq.NewClient(ctx, &rabbitmq.Config{
		URL:            cfg.RabbitMQ.URL,
		MaxRetries:     cfg.RabbitMQ.ConnectRetries,
		RetryInterval:  cfg.RabbitMQ.ReconnectInterval,
		PrefetchCount:  cfg.RabbitMQ.Prefetch,
		ReconnectDelay: cfg.RabbitMQ.ReconnectInterval,
	})
	if err != nil {
		appLog.Fatal("RabbitMQ connection failed", zap.Error(err))
	}
	defer mq.Close()

	if err := mq.DeclareTopology(); err != nil {
		appLog.Fatal("Failed to declare exchanges", zap.Error(err))
	}
	if err := mq.DeclareQueue(consumer.QueueName, consumer.Bindings()); err != nil {
		appLog.Fatal("Failed to declare queue", zap.Error(err))
	}

	publisher, err := rabbitmq.NewPublisher(mq)
	if err != nil {
		appLog.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer publisher.Close()

	container := di.NewContainer(&di.ContainerConfig{
		DB:             db,
		EventPublisher: publisher,
		ReservationTTL: cfg.Booking.ReservationTTL,
		SweepInterval:  cfg.Booking.SweepInterval,
	})

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		mqConsumer := rabbitmq.NewConsumer(mq, consumer.QueueName)
		if err := mqConsumer.Start(consumerCtx, container.Consumer.Handle); err != nil {
			appLog.Error("Consumer stopped", zap.Error(err))
		}
	}()

	container.Sweeper.Start(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.GinMiddleware(serviceName))

	router.GET("/health", container.HealthHandler.Health)

	v1 := router.Group("/api/v1")
	container.EventHandler.RegisterRoutes(v1)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("Event service listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down")

	stopConsumer()
	container.Sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shut down", zap.Error(err))
	}
	appLog.Info("Server exited")
}

func postgresConfig(db *config.DatabaseConfig, tracing bool) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            db.Host,
		Port:            db.Port,
		User:            db.User,
		Password:        db.Password,
		Database:        db.DBName,
		SSLMode:         db.SSLMode,
		MaxConns:        int32(db.MaxOpenConns),
		MinConns:        int32(db.MinConns),
		MaxConnLifetime: db.ConnMaxLifetime,
		MaxConnIdleTime: db.ConnMaxIdleTime,
		EnableTracing:   tracing,
	}
}
