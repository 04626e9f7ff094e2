// Package proxy forwards gateway requests to upstream service
// instances picked by the registry, guarded by the circuit breaker.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/gateway/breaker"
	"github.com/eventix/eventix/internal/gateway/registry"
	"github.com/eventix/eventix/pkg/logger"
)

// DefaultUpstreamTimeout bounds one proxied request.
const DefaultUpstreamTimeout = 30 * time.Second

// Route maps a path prefix to an upstream service.
type Route struct {
	PathPrefix string
	Service    string
}

// Config holds the proxy wiring.
type Config struct {
	Routes          []Route
	Registry        *registry.Registry
	Breaker         *breaker.CircuitBreaker
	UpstreamTimeout time.Duration
}

// Proxy forwards requests. It copies the method, path, query, body and
// headers through as-is, minus hop-by-hop headers.
type Proxy struct {
	config *Config
	client *http.Client
	log    *zap.Logger
}

// New creates a proxy.
func New(config *Config) *Proxy {
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 200,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Proxy{
		config: config,
		client: &http.Client{Transport: transport},
		log:    logger.Get().With(zap.String("component", "proxy")).Zap(),
	}
}

// hop-by-hop headers are meaningful only for a single transport link.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (p *Proxy) findRoute(path string) *Route {
	for i := range p.config.Routes {
		if strings.HasPrefix(path, p.config.Routes[i].PathPrefix) {
			return &p.config.Routes[i]
		}
	}
	return nil
}

// Handler returns the gin handler that forwards everything.
func (p *Proxy) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		route := p.findRoute(c.Request.URL.Path)
		if route == nil {
			writeError(c, http.StatusNotFound, "ROUTE_NOT_FOUND", "no route configured for this path")
			return
		}

		service := p.config.Registry.Get(route.Service)
		if service == nil {
			writeError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "upstream service not configured")
			return
		}
		instance := service.Pick()
		if instance == nil {
			writeError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no upstream instances available")
			return
		}

		upstream := instance.BaseURL
		if !p.config.Breaker.Allow(c.Request.Context(), upstream) {
			writeError(c, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "upstream temporarily unavailable")
			return
		}

		resp, err := p.forward(c, upstream)
		if err != nil {
			p.config.Breaker.RecordFailure(c.Request.Context(), upstream)
			service.SetHealth(upstream, false)
			status, code, message := classifyError(err)
			p.log.Warn("proxy request failed",
				zap.String("upstream", upstream),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			writeError(c, status, code, message)
			return
		}
		defer resp.Body.Close()

		// 5xx from the upstream counts against the breaker too.
		if resp.StatusCode >= http.StatusInternalServerError {
			p.config.Breaker.RecordFailure(c.Request.Context(), upstream)
		} else {
			p.config.Breaker.RecordSuccess(c.Request.Context(), upstream)
		}

		header := c.Writer.Header()
		for name, values := range resp.Header {
			for _, v := range values {
				header.Add(name, v)
			}
		}
		for _, h := range hopHeaders {
			header.Del(h)
		}
		header.Set("X-Process-Time", fmt.Sprintf("%.3f", time.Since(start).Seconds()))

		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			p.log.Warn("failed to stream upstream response", zap.Error(err))
		}
	}
}

func (p *Proxy) forward(c *gin.Context, upstream string) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.config.UpstreamTimeout)
	defer cancel()

	target := upstream + c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, c.Request.Body)
	if err != nil {
		return nil, err
	}
	req.Header = c.Request.Header.Clone()
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("X-Forwarded-For", c.ClientIP())

	resp, err := p.client.Do(req) //nolint:bodyclose // closed by the caller
	if err != nil {
		return nil, err
	}
	// Read fully before the timeout context is cancelled.
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp, nil
}

func classifyError(err error) (int, string, string) {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", "upstream timed out"
	default:
		return http.StatusBadGateway, "BAD_GATEWAY", "upstream unreachable"
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
