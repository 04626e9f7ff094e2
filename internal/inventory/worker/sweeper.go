package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/inventory/service"
	"github.com/eventix/eventix/pkg/logger"
)

// DefaultSweepInterval is how often expired reservations are swept.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically expires overdue reservations and frees their
// seats. Expiry also happens logically on read, the sweep keeps the
// stored state and the published events in line.
type Sweeper struct {
	inventory service.InventoryService
	interval  time.Duration
	log       *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	running bool
}

// NewSweeper creates a sweeper with the given interval.
func NewSweeper(inventory service.InventoryService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		inventory: inventory,
		interval:  interval,
		log:       logger.Get().With(zap.String("component", "reservation_sweeper")),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	s.log.Info("reservation sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("reservation sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	count, err := s.inventory.SweepExpired(sweepCtx)
	if err != nil {
		s.log.Error("reservation sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.log.Info("reservation sweep released seats", zap.Int("expired", count))
	}
}
