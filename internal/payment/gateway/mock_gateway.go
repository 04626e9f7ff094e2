package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockGateway is a deterministic in-memory gateway for local runs and
// tests. Amounts ending in .99 are declined at capture, everything
// else succeeds, so test outcomes never depend on chance.
type MockGateway struct {
	config *MockConfig

	mu    sync.Mutex
	seq   int
	holds map[string]*mockHold
}

// MockConfig holds configuration for the mock gateway
type MockConfig struct {
	// DeclineCents declines any amount whose fractional part matches,
	// e.g. 99 declines 10.99. Zero disables amount-based declines.
	DeclineCents int
	// DelayMs simulates provider latency
	DelayMs int
}

type mockHold struct {
	paymentID string
	amount    float64
	captured  bool
	canceled  bool
}

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockConfig) *MockGateway {
	if config == nil {
		config = &MockConfig{DeclineCents: 99}
	}
	return &MockGateway{
		config: config,
		holds:  make(map[string]*mockHold),
	}
}

func (g *MockGateway) delay() {
	if g.config.DelayMs > 0 {
		time.Sleep(time.Duration(g.config.DelayMs) * time.Millisecond)
	}
}

func (g *MockGateway) nextRef(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_mock_%06d", prefix, g.seq)
}

// Authorize records a hold for the amount. Repeated calls for the same
// payment id return the existing hold.
func (g *MockGateway) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("authorize request is required")
	}
	g.delay()

	g.mu.Lock()
	defer g.mu.Unlock()

	for ref, hold := range g.holds {
		if hold.paymentID == req.PaymentID {
			return &AuthorizeResponse{ProviderRef: ref, Status: "requires_capture"}, nil
		}
	}

	ref := g.nextRef("pi")
	g.holds[ref] = &mockHold{paymentID: req.PaymentID, amount: req.Amount}
	return &AuthorizeResponse{ProviderRef: ref, Status: "requires_capture"}, nil
}

// Capture settles the hold, declining configured amounts.
func (g *MockGateway) Capture(ctx context.Context, paymentID, providerRef string) (*CaptureResult, error) {
	g.delay()

	g.mu.Lock()
	defer g.mu.Unlock()

	hold, ok := g.holds[providerRef]
	if !ok {
		return nil, fmt.Errorf("unknown provider reference: %s", providerRef)
	}
	if hold.canceled {
		return &CaptureResult{Success: false, ProviderRef: providerRef, FailureReason: "intent_canceled"}, nil
	}
	if hold.captured {
		return &CaptureResult{Success: true, ProviderRef: providerRef}, nil
	}

	if g.config.DeclineCents > 0 {
		cents := int(math.Round(hold.amount*100)) % 100
		if cents == g.config.DeclineCents {
			return &CaptureResult{Success: false, ProviderRef: providerRef, FailureReason: "card_declined"}, nil
		}
	}

	hold.captured = true
	return &CaptureResult{Success: true, ProviderRef: providerRef}, nil
}

// Refund issues a refund reference for a captured hold.
func (g *MockGateway) Refund(ctx context.Context, paymentID, providerRef string, amount float64) (*RefundResult, error) {
	g.delay()

	g.mu.Lock()
	defer g.mu.Unlock()

	hold, ok := g.holds[providerRef]
	if !ok {
		return nil, fmt.Errorf("unknown provider reference: %s", providerRef)
	}
	if !hold.captured {
		return nil, fmt.Errorf("cannot refund uncaptured payment: %s", providerRef)
	}
	return &RefundResult{RefundRef: g.nextRef("re")}, nil
}

// Cancel voids an uncaptured hold. Canceling an unknown or already
// settled hold is not an error.
func (g *MockGateway) Cancel(ctx context.Context, paymentID, providerRef string) error {
	g.delay()

	g.mu.Lock()
	defer g.mu.Unlock()

	if hold, ok := g.holds[providerRef]; ok && !hold.captured {
		hold.canceled = true
	}
	return nil
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}
