// Package di wires the api-gateway dependencies.
package di

import (
	"net/http"

	"github.com/eventix/eventix/internal/gateway/breaker"
	"github.com/eventix/eventix/internal/gateway/handler"
	"github.com/eventix/eventix/internal/gateway/metrics"
	"github.com/eventix/eventix/internal/gateway/middleware"
	"github.com/eventix/eventix/internal/gateway/proxy"
	"github.com/eventix/eventix/internal/gateway/registry"
	"github.com/eventix/eventix/pkg/config"
	"github.com/eventix/eventix/pkg/redis"
)

// Service names used in the registry and route table.
const (
	ServiceUser    = "user-service"
	ServiceEvent   = "event-service"
	ServiceBooking = "booking-service"
	ServicePayment = "payment-service"
)

// Container holds the gateway components.
type Container struct {
	Registry       *registry.Registry
	HealthChecker  *registry.HealthChecker
	Breaker        *breaker.CircuitBreaker
	Recorder       metrics.Recorder
	Counter        middleware.Counter
	AuthConfig     *middleware.AuthConfig
	Proxy          *proxy.Proxy
	GatewayHandler *handler.GatewayHandler
}

// NewContainer builds the gateway from configuration.
func NewContainer(cfg *config.Config, redisClient *redis.Client) *Container {
	reg := registry.NewRegistry()
	reg.Add(registry.NewService(ServiceUser, cfg.Gateway.UserServiceURLs))
	reg.Add(registry.NewService(ServiceEvent, cfg.Gateway.EventServiceURLs))
	reg.Add(registry.NewService(ServiceBooking, cfg.Gateway.BookingServiceURLs))
	reg.Add(registry.NewService(ServicePayment, cfg.Gateway.PaymentServiceURLs))

	checker := registry.NewHealthChecker(reg, cfg.Gateway.HealthInterval, cfg.Gateway.HealthTimeout)

	cb := breaker.New(breaker.NewRedisStore(redisClient), &breaker.Config{
		FailureThreshold: cfg.Gateway.BreakerThreshold,
		OpenDuration:     cfg.Gateway.BreakerOpenTimeout,
	})

	recorder := metrics.NewRedisRecorder(redisClient)
	counter := middleware.NewRedisCounter(redisClient)

	authCfg := &middleware.AuthConfig{
		JWTSecret: cfg.JWT.Secret,
		PublicRoutes: []middleware.RouteRule{
			{PathPrefix: "/api/v1/auth/"},
			{PathPrefix: "/api/v1/events", Methods: []string{http.MethodGet}},
		},
		AdminRoutes: []middleware.RouteRule{
			{PathPrefix: "/api/v1/events", Methods: []string{http.MethodPost, http.MethodPut, http.MethodDelete}},
		},
	}

	p := proxy.New(&proxy.Config{
		Routes:          Routes(),
		Registry:        reg,
		Breaker:         cb,
		UpstreamTimeout: cfg.Gateway.UpstreamTimeout,
	})

	return &Container{
		Registry:       reg,
		HealthChecker:  checker,
		Breaker:        cb,
		Recorder:       recorder,
		Counter:        counter,
		AuthConfig:     authCfg,
		Proxy:          p,
		GatewayHandler: handler.NewGatewayHandler(reg, recorder, redisClient),
	}
}

// Routes maps public path prefixes to upstream services.
func Routes() []proxy.Route {
	return []proxy.Route{
		{PathPrefix: "/api/v1/auth", Service: ServiceUser},
		{PathPrefix: "/api/v1/users", Service: ServiceUser},
		{PathPrefix: "/api/v1/events", Service: ServiceEvent},
		{PathPrefix: "/api/v1/bookings", Service: ServiceBooking},
		{PathPrefix: "/api/v1/payments", Service: ServicePayment},
	}
}
