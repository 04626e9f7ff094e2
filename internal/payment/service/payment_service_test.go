package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/internal/payment/gateway"
	"github.com/eventix/eventix/internal/payment/repository"
	"github.com/eventix/eventix/pkg/events"
)

// MockPaymentRepository is an in-memory implementation of
// PaymentRepository backed by maps.
type MockPaymentRepository struct {
	mu        sync.Mutex
	payments  map[string]*domain.Payment
	byBooking map[string]string
}

func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments:  make(map[string]*domain.Payment),
		byBooking: make(map[string]string),
	}
}

var _ repository.PaymentRepository = (*MockPaymentRepository)(nil)

func (m *MockPaymentRepository) UpsertPending(ctx context.Context, payment *domain.Payment) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byBooking[payment.BookingID]; ok {
		return m.payments[id], false, nil
	}
	p := *payment
	p.Status = domain.PaymentPending
	m.payments[p.ID] = &p
	m.byBooking[p.BookingID] = p.ID
	return &p, true, nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *MockPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	copied := *m.payments[id]
	return &copied, nil
}

func (m *MockPaymentRepository) SetIntent(ctx context.Context, id, intentRef, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.IntentRef = intentRef
	p.ProviderRef = providerRef
	return nil
}

func (m *MockPaymentRepository) transition(id string, from, to domain.PaymentStatus, apply func(*domain.Payment)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	if apply != nil {
		apply(p)
	}
	return true, nil
}

func (m *MockPaymentRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return m.transition(id, domain.PaymentPending, domain.PaymentProcessing, nil)
}

func (m *MockPaymentRepository) Complete(ctx context.Context, id, providerRef string) (bool, error) {
	return m.transition(id, domain.PaymentProcessing, domain.PaymentCompleted, func(p *domain.Payment) {
		if providerRef != "" {
			p.ProviderRef = providerRef
		}
	})
}

func (m *MockPaymentRepository) Fail(ctx context.Context, id, reason string) (bool, error) {
	return m.transition(id, domain.PaymentProcessing, domain.PaymentFailed, func(p *domain.Payment) {
		p.FailureReason = reason
	})
}

func (m *MockPaymentRepository) Refund(ctx context.Context, id, refundRef string) (bool, error) {
	return m.transition(id, domain.PaymentCompleted, domain.PaymentRefunded, func(p *domain.Payment) {
		p.RefundRef = refundRef
	})
}

func (m *MockPaymentRepository) CancelPending(ctx context.Context, id string) (bool, error) {
	return m.transition(id, domain.PaymentPending, domain.PaymentCancelled, nil)
}

// capturePublisher records published envelopes for assertions.
type capturePublisher struct {
	mu        sync.Mutex
	published []*events.Envelope
}

func (p *capturePublisher) Publish(ctx context.Context, env *events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
	return nil
}

func (p *capturePublisher) byType(t events.Type) []*events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.Envelope
	for _, env := range p.published {
		if env.EventType == t {
			out = append(out, env)
		}
	}
	return out
}

func newTestService(t *testing.T) (PaymentService, *MockPaymentRepository, *capturePublisher) {
	t.Helper()
	repo := NewMockPaymentRepository()
	pub := &capturePublisher{}
	svc := NewPaymentService(repo, gateway.NewMockGateway(nil), pub)
	return svc, repo, pub
}

func TestEnsurePaymentConvergesOnOneRow(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsurePayment(ctx, "booking-1", "user-1", 200, "USD")
	if err != nil {
		t.Fatalf("EnsurePayment() error = %v", err)
	}
	if first.Status != domain.PaymentPending {
		t.Fatalf("status = %s, want PENDING", first.Status)
	}

	second, err := svc.EnsurePayment(ctx, "booking-1", "user-1", 200, "USD")
	if err != nil {
		t.Fatalf("EnsurePayment() replay error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay created a second payment: %s vs %s", second.ID, first.ID)
	}
	if got := len(pub.byType(events.PaymentInitiated)); got != 1 {
		t.Errorf("payment.initiated published %d times, want 1", got)
	}
}

func TestCreateIntentIsReentrant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	if payment.ProviderRef == "" {
		t.Fatal("expected a provider reference after intent creation")
	}

	replay, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() replay error = %v", err)
	}
	if replay.ProviderRef != payment.ProviderRef {
		t.Errorf("replay minted a new hold: %s vs %s", replay.ProviderRef, payment.ProviderRef)
	}
}

func TestProcessCompletesPayment(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}

	payment, err := svc.Process(ctx, "booking-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Fatalf("status = %s, want COMPLETED", payment.Status)
	}

	stored, _ := repo.GetByID(ctx, created.ID)
	if stored.Status != domain.PaymentCompleted {
		t.Errorf("stored status = %s, want COMPLETED", stored.Status)
	}

	completed := pub.byType(events.PaymentCompleted)
	if len(completed) != 1 {
		t.Fatalf("payment.completed published %d times, want 1", len(completed))
	}
	var data events.PaymentData
	if err := completed[0].Decode(&data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if data.BookingID != "booking-1" || data.Amount != 150 {
		t.Errorf("payload = %+v, want booking-1 for 150", data)
	}
}

func TestProcessWithoutIntentAuthorizesFirst(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.EnsurePayment(ctx, "booking-1", "user-1", 80, "USD"); err != nil {
		t.Fatalf("EnsurePayment() error = %v", err)
	}

	payment, err := svc.Process(ctx, "booking-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Fatalf("status = %s, want COMPLETED", payment.Status)
	}
	if payment.ProviderRef == "" {
		t.Error("expected a provider reference from the implicit authorize")
	}
	if got := len(pub.byType(events.PaymentCompleted)); got != 1 {
		t.Errorf("payment.completed published %d times, want 1", got)
	}
}

func TestProcessDeclined(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()

	// The mock gateway declines amounts ending in .99.
	created, err := svc.CreateIntent(ctx, "booking-1", "user-1", 49.99, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}

	_, err = svc.Process(ctx, "booking-1")
	if !errors.Is(err, domain.ErrPaymentDeclined) {
		t.Fatalf("Process() error = %v, want ErrPaymentDeclined", err)
	}

	stored, _ := repo.GetByID(ctx, created.ID)
	if stored.Status != domain.PaymentFailed {
		t.Errorf("stored status = %s, want FAILED", stored.Status)
	}
	if stored.FailureReason != "card_declined" {
		t.Errorf("failure reason = %q, want card_declined", stored.FailureReason)
	}

	failed := pub.byType(events.PaymentFailed)
	if len(failed) != 1 {
		t.Fatalf("payment.failed published %d times, want 1", len(failed))
	}
	var data events.PaymentData
	if err := failed[0].Decode(&data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if data.Reason != "card_declined" {
		t.Errorf("reason = %q, want card_declined", data.Reason)
	}
}

func TestProcessReplayReportsSettledOutcome(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD"); err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	if _, err := svc.Process(ctx, "booking-1"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	replay, err := svc.Process(ctx, "booking-1")
	if err != nil {
		t.Fatalf("Process() replay error = %v", err)
	}
	if replay.Status != domain.PaymentCompleted {
		t.Errorf("replay status = %s, want COMPLETED", replay.Status)
	}
	if got := len(pub.byType(events.PaymentCompleted)); got != 1 {
		t.Errorf("payment.completed published %d times, want 1", got)
	}
}

func TestProcessRedrivesInterruptedPayment(t *testing.T) {
	svc, repo, pub := newTestService(t)
	ctx := context.Background()

	payment, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}

	// An earlier attempt stopped after MarkProcessing, before any
	// outcome was recorded.
	moved, err := repo.MarkProcessing(ctx, payment.ID)
	if err != nil || !moved {
		t.Fatalf("MarkProcessing() = %v, %v", moved, err)
	}

	processed, err := svc.Process(ctx, "booking-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if processed.Status != domain.PaymentCompleted {
		t.Errorf("status = %s, want COMPLETED", processed.Status)
	}
	if got := len(pub.byType(events.PaymentCompleted)); got != 1 {
		t.Errorf("payment.completed published %d times, want 1", got)
	}
}

func TestRefundCompletedPayment(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD"); err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}
	payment, err := svc.Process(ctx, "booking-1")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	refunded, err := svc.RefundPayment(ctx, payment.ID, "user_cancelled")
	if err != nil {
		t.Fatalf("RefundPayment() error = %v", err)
	}
	if refunded.Status != domain.PaymentRefunded {
		t.Fatalf("status = %s, want REFUNDED", refunded.Status)
	}
	if refunded.RefundRef == "" {
		t.Error("expected a refund reference")
	}

	again, err := svc.RefundPayment(ctx, payment.ID, "user_cancelled")
	if err != nil {
		t.Fatalf("RefundPayment() replay error = %v", err)
	}
	if again.Status != domain.PaymentRefunded {
		t.Errorf("replay status = %s, want REFUNDED", again.Status)
	}
	if got := len(pub.byType(events.PaymentRefunded)); got != 1 {
		t.Errorf("payment.refunded published %d times, want 1", got)
	}
}

func TestRefundPendingNotRefundable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	payment, err := svc.EnsurePayment(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("EnsurePayment() error = %v", err)
	}

	if _, err := svc.RefundPayment(ctx, payment.ID, "user_cancelled"); !errors.Is(err, domain.ErrNotRefundable) {
		t.Fatalf("RefundPayment() error = %v, want ErrNotRefundable", err)
	}
}

func TestCancelIntent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateIntent(ctx, "booking-1", "user-1", 150, "USD")
	if err != nil {
		t.Fatalf("CreateIntent() error = %v", err)
	}

	if err := svc.CancelIntent(ctx, "booking-1"); err != nil {
		t.Fatalf("CancelIntent() error = %v", err)
	}
	stored, _ := repo.GetByID(ctx, created.ID)
	if stored.Status != domain.PaymentCancelled {
		t.Errorf("status = %s, want CANCELLED", stored.Status)
	}

	// Unknown booking and already settled payments are both no-ops.
	if err := svc.CancelIntent(ctx, "booking-missing"); err != nil {
		t.Errorf("CancelIntent() unknown booking error = %v", err)
	}
	if err := svc.CancelIntent(ctx, "booking-1"); err != nil {
		t.Errorf("CancelIntent() replay error = %v", err)
	}
}
