// Package breaker implements a per-upstream circuit breaker whose
// state lives in a shared store, so every gateway replica sees the
// same trip.
package breaker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eventix/eventix/pkg/logger"
)

// State is the breaker state for one upstream.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that
	// trips the breaker.
	DefaultFailureThreshold = 5
	// DefaultOpenDuration is how long an open breaker rejects before
	// letting one probe request through.
	DefaultOpenDuration = 60 * time.Second
)

// Entry is the stored breaker record for one upstream.
type Entry struct {
	State    State     `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at"`
}

// Store persists breaker entries. A missing upstream returns a zero
// Entry with StateClosed.
type Store interface {
	Get(ctx context.Context, upstream string) (Entry, error)
	Set(ctx context.Context, upstream string, entry Entry) error
}

// Config tunes a CircuitBreaker.
type Config struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// CircuitBreaker guards calls to upstream instances. Store errors fail
// open: a broken Redis must not take the gateway down with it.
type CircuitBreaker struct {
	store     Store
	threshold int
	openFor   time.Duration
	log       *zap.Logger
}

// New creates a circuit breaker over the store.
func New(store Store, cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = &Config{}
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	openFor := cfg.OpenDuration
	if openFor <= 0 {
		openFor = DefaultOpenDuration
	}
	return &CircuitBreaker{
		store:     store,
		threshold: threshold,
		openFor:   openFor,
		log:       logger.Get().With(zap.String("component", "circuit_breaker")).Zap(),
	}
}

// Allow reports whether a request to the upstream may proceed. An open
// breaker lets a single probe through once the open window elapsed.
func (b *CircuitBreaker) Allow(ctx context.Context, upstream string) bool {
	entry, err := b.store.Get(ctx, upstream)
	if err != nil {
		return true
	}

	switch entry.State {
	case StateOpen:
		if time.Since(entry.OpenedAt) < b.openFor {
			return false
		}
		entry.State = StateHalfOpen
		if err := b.store.Set(ctx, upstream, entry); err != nil {
			b.log.Warn("failed to persist breaker state", zap.Error(err))
		}
		return true
	default:
		return true
	}
}

// RecordSuccess resets the breaker after a successful call.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, upstream string) {
	entry, err := b.store.Get(ctx, upstream)
	if err != nil {
		return
	}
	if entry.State == StateClosed && entry.Failures == 0 {
		return
	}
	if entry.State != StateClosed {
		b.log.Info("circuit closed", zap.String("upstream", upstream))
	}
	if err := b.store.Set(ctx, upstream, Entry{State: StateClosed}); err != nil {
		b.log.Warn("failed to persist breaker state", zap.Error(err))
	}
}

// RecordFailure counts a failed call, tripping the breaker at the
// threshold. A half-open probe failing re-opens immediately.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, upstream string) {
	entry, err := b.store.Get(ctx, upstream)
	if err != nil {
		return
	}

	entry.Failures++
	if entry.State == StateHalfOpen || entry.Failures >= b.threshold {
		entry.State = StateOpen
		entry.OpenedAt = time.Now()
		b.log.Warn("circuit opened",
			zap.String("upstream", upstream),
			zap.Int("failures", entry.Failures))
	}
	if err := b.store.Set(ctx, upstream, entry); err != nil {
		b.log.Warn("failed to persist breaker state", zap.Error(err))
	}
}

// StateOf returns the current state for an upstream.
func (b *CircuitBreaker) StateOf(ctx context.Context, upstream string) State {
	entry, err := b.store.Get(ctx, upstream)
	if err != nil {
		return StateClosed
	}
	if entry.State == "" {
		return StateClosed
	}
	return entry.State
}
