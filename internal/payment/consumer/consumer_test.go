package consumer

import (
	"context"
	"sync"
	"testing"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/workflow"
)

// fakePayments is a canned PaymentService for dispatch tests.
type fakePayments struct {
	mu         sync.Mutex
	ensured    []string
	cancelled  []string
	processed  []string
	refunded   []string
	processErr error
	refundErr  error
}

func (f *fakePayments) EnsurePayment(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, bookingID)
	return &domain.Payment{ID: "pay-1", BookingID: bookingID, UserID: userID, Amount: amount, Currency: currency, Status: domain.PaymentPending}, nil
}

func (f *fakePayments) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}

func (f *fakePayments) GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return nil, domain.ErrPaymentNotFound
}

func (f *fakePayments) CreateIntent(ctx context.Context, bookingID, userID string, amount float64, currency string) (*domain.Payment, error) {
	return &domain.Payment{ID: "pay-1", BookingID: bookingID, ProviderRef: "pi_mock_000001", Status: domain.PaymentPending}, nil
}

func (f *fakePayments) CancelIntent(ctx context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, bookingID)
	return nil
}

func (f *fakePayments) Process(ctx context.Context, bookingID string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processErr != nil {
		return nil, f.processErr
	}
	f.processed = append(f.processed, bookingID)
	return &domain.Payment{ID: "pay-1", BookingID: bookingID, ProviderRef: "pi_mock_000001", Status: domain.PaymentCompleted}, nil
}

func (f *fakePayments) RefundPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunded = append(f.refunded, paymentID)
	return &domain.Payment{ID: paymentID, Status: domain.PaymentRefunded}, nil
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

func (p *capturePublisher) last(t *testing.T) *events.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		t.Fatal("expected a published event")
	}
	return p.published[len(p.published)-1]
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func stepEnvelope(t *testing.T, eventType events.Type, req *workflow.StepRequest) *events.Envelope {
	t.Helper()
	env, err := events.New(eventType, "booking-service", req)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	return env.WithCorrelation(req.WorkflowID)
}

func TestBookingInitiatedOpensPayment(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env, err := events.New(events.BookingInitiated, "booking-service", &events.BookingInitiatedData{
		BookingID:   "booking-1",
		UserID:      "user-1",
		TotalAmount: 200,
		Currency:    "USD",
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(payments.ensured) != 1 || payments.ensured[0] != "booking-1" {
		t.Errorf("ensured = %v, want [booking-1]", payments.ensured)
	}
}

func TestIntentCreateStep(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env := stepEnvelope(t, events.PaymentIntentCreate, &workflow.StepRequest{
		WorkflowID:   "wf-1",
		WorkflowType: "booking_creation",
		StepName:     "create_payment_intent",
		Context: map[string]any{
			"booking_id":   "booking-1",
			"user_id":      "user-1",
			"total_amount": 200.0,
			"currency":     "USD",
		},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	reply := pub.last(t)
	if reply.EventType != events.PaymentIntentResponse {
		t.Fatalf("reply type = %s, want %s", reply.EventType, events.PaymentIntentResponse)
	}
	if reply.CorrelationID != "wf-1" {
		t.Errorf("correlation = %s, want wf-1", reply.CorrelationID)
	}
	var resp workflow.StepResponse
	if err := reply.Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !resp.Success {
		t.Fatalf("step failed: %s", resp.Error)
	}
	if resp.Result["provider_ref"] != "pi_mock_000001" {
		t.Errorf("provider_ref = %v, want pi_mock_000001", resp.Result["provider_ref"])
	}
}

func TestIntentCancelCompensation(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env := stepEnvelope(t, events.PaymentIntentCancel, &workflow.StepRequest{
		WorkflowID:   "wf-1",
		StepName:     "create_payment_intent",
		Compensation: true,
		Context:      map[string]any{"booking_id": "booking-1"},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(payments.cancelled) != 1 || payments.cancelled[0] != "booking-1" {
		t.Errorf("cancelled = %v, want [booking-1]", payments.cancelled)
	}

	var resp workflow.StepResponse
	if err := pub.last(t).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !resp.Compensation || !resp.Success {
		t.Errorf("response = %+v, want successful compensation", resp)
	}
}

func TestProcessStepDeclinedNotRetryable(t *testing.T) {
	payments := &fakePayments{processErr: domain.ErrPaymentDeclined}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env := stepEnvelope(t, events.PaymentProcess, &workflow.StepRequest{
		WorkflowID: "wf-2",
		StepName:   "process_payment",
		Context:    map[string]any{"booking_id": "booking-1"},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	var resp workflow.StepResponse
	if err := pub.last(t).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if resp.Success {
		t.Fatal("expected a failed step response")
	}
	if resp.Retryable {
		t.Error("a decline must not be retryable")
	}
}

func TestRefundCompensationRespondsToProcessStep(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env := stepEnvelope(t, events.PaymentRefundRequest, &workflow.StepRequest{
		WorkflowID:   "wf-2",
		StepName:     "process_payment",
		Compensation: true,
		Context:      map[string]any{"booking_id": "booking-1"},
		Result:       map[string]any{"payment_id": "pay-1"},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(payments.refunded) != 1 || payments.refunded[0] != "pay-1" {
		t.Errorf("refunded = %v, want [pay-1]", payments.refunded)
	}

	reply := pub.last(t)
	if reply.EventType != events.PaymentProcessResponse {
		t.Fatalf("reply type = %s, want %s", reply.EventType, events.PaymentProcessResponse)
	}
	var resp workflow.StepResponse
	if err := reply.Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !resp.Compensation || !resp.Success {
		t.Errorf("response = %+v, want successful compensation", resp)
	}
}

func TestRefundCompensationWithNothingCapturedSucceeds(t *testing.T) {
	payments := &fakePayments{refundErr: domain.ErrNotRefundable}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env := stepEnvelope(t, events.PaymentRefundRequest, &workflow.StepRequest{
		WorkflowID:   "wf-2",
		StepName:     "process_payment",
		Compensation: true,
		Result:       map[string]any{"payment_id": "pay-1"},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	var resp workflow.StepResponse
	if err := pub.last(t).Decode(&resp); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !resp.Success {
		t.Errorf("response = %+v, a refund with nothing captured should succeed", resp)
	}
}

func TestRefundDirectCommand(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env, err := events.New(events.PaymentRefundRequest, "booking-service", &events.PaymentData{
		PaymentID: "pay-9",
		BookingID: "booking-9",
		Reason:    "user_cancelled",
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(payments.refunded) != 1 || payments.refunded[0] != "pay-9" {
		t.Errorf("refunded = %v, want [pay-9]", payments.refunded)
	}
	if pub.count() != 0 {
		t.Errorf("direct refund published %d events, want 0", pub.count())
	}
}

func TestUnknownTypeDropped(t *testing.T) {
	payments := &fakePayments{}
	pub := &capturePublisher{}
	c := NewPaymentConsumer(payments, pub)

	env, err := events.New(events.BookingConfirmed, "booking-service", map[string]any{})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if pub.count() != 0 {
		t.Errorf("unknown event published %d events, want 0", pub.count())
	}
}
