// Package worker runs the booking expiry loop.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/internal/booking/service"
	"github.com/eventix/eventix/pkg/logger"
)

// DefaultExpiryInterval is how often overdue bookings are expired.
const DefaultExpiryInterval = 30 * time.Second

// ExpiryWorker periodically expires PENDING bookings whose expiry date
// has passed.
type ExpiryWorker struct {
	bookings service.BookingService
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewExpiryWorker creates the worker.
func NewExpiryWorker(bookings service.BookingService, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	return &ExpiryWorker{
		bookings: bookings,
		interval: interval,
		log:      logger.Get().With(zap.String("component", "expiry_worker")),
	}
}

// Start launches the expiry loop. Calling Start on a running worker is
// a no-op.
func (w *ExpiryWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run()
	w.log.Info("expiry worker started", zap.Duration("interval", w.interval))
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("expiry worker stopped")
}

func (w *ExpiryWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			count, err := w.bookings.ExpireOverdue(ctx)
			cancel()
			if err != nil {
				w.log.Error("expiry pass failed", zap.Error(err))
				continue
			}
			if count > 0 {
				w.log.Info("bookings expired", zap.Int("count", count))
			}
		}
	}
}
