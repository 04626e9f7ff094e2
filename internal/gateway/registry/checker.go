package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/logger"
)

const (
	// DefaultCheckInterval is how often every instance is probed.
	DefaultCheckInterval = 30 * time.Second
	// DefaultProbeTimeout bounds a single health probe.
	DefaultProbeTimeout = 5 * time.Second
)

// HealthChecker sweeps every registered instance's /health endpoint
// and flips its health flag on the single probe's outcome.
type HealthChecker struct {
	registry *Registry
	client   *http.Client
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *zap.Logger
}

// NewHealthChecker creates a checker with the given sweep interval.
func NewHealthChecker(registry *Registry, interval, probeTimeout time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &HealthChecker{
		registry: registry,
		client:   &http.Client{Timeout: probeTimeout},
		interval: interval,
		log:      logger.Get().With(zap.String("component", "health_checker")).Zap(),
	}
}

// Start launches the sweep loop.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.wg.Add(1)
	go h.run()
}

// Stop halts the sweep loop and waits for it to finish.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *HealthChecker) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Sweep(context.Background())
	for {
		select {
		case <-ticker.C:
			h.Sweep(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// Sweep probes every instance of every service once, in parallel.
func (h *HealthChecker) Sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for _, service := range h.registry.All() {
		for _, inst := range service.Snapshot() {
			wg.Add(1)
			go func(service *Service, baseURL string, wasHealthy bool) {
				defer wg.Done()
				healthy := h.probe(ctx, baseURL)
				service.SetHealth(baseURL, healthy)
				if healthy != wasHealthy {
					h.log.Warn("upstream health changed",
						zap.String("service", service.Name),
						zap.String("instance", baseURL),
						zap.Bool("healthy", healthy))
				}
			}(service, inst.BaseURL, inst.Healthy)
		}
	}
	wg.Wait()
}

func (h *HealthChecker) probe(ctx context.Context, baseURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
