package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/retry"
)

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

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func testDefinition() *Definition {
	return NewDefinition("ticket_purchase", "booking.ticket_purchase.completed", "booking.ticket_purchase.failed").
		AddStep(&StepDefinition{
			Name:              "reserve_seats",
			TargetService:     "event-service",
			RequestEvent:      "event.seats.reserve",
			ResponseEvent:     "booking.reserve_seats.response",
			CompensationEvent: "event.seats.release",
		}).
		AddStep(&StepDefinition{
			Name:          "process_payment",
			TargetService: "payment-service",
			RequestEvent:  "payment.charge",
			ResponseEvent: "booking.process_payment.response",
			MaxAttempts:   2,
		})
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *MemoryStore, *capturePublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := &capturePublisher{}
	orch := NewOrchestrator(&Config{
		Service:   "booking-service",
		Store:     store,
		Publisher: pub,
		Backoff: &retry.Config{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Multiplier:      1,
		},
	})
	if err := orch.Register(testDefinition()); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}
	return orch, store, pub
}

func respond(t *testing.T, orch *Orchestrator, workflowID string, resp *StepResponse) {
	t.Helper()
	env, err := events.New(events.Type("booking."+resp.StepName+".response"), "test", resp)
	if err != nil {
		t.Fatalf("failed to build response event: %v", err)
	}
	env.WithCorrelation(workflowID)
	if err := orch.HandleResponse(context.Background(), env); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
}

func TestDefinitionDefaults(t *testing.T) {
	def := testDefinition()
	if def.GlobalTimeout != 5*time.Minute {
		t.Errorf("expected default global timeout of 5 minutes, got %v", def.GlobalTimeout)
	}
	if def.Steps[0].Timeout != 30*time.Second {
		t.Errorf("expected default step timeout of 30 seconds, got %v", def.Steps[0].Timeout)
	}
	if def.Steps[0].MaxAttempts != 3 {
		t.Errorf("expected default max attempts of 3, got %d", def.Steps[0].MaxAttempts)
	}
	if def.Steps[1].MaxAttempts != 2 {
		t.Errorf("expected max attempts of 2, got %d", def.Steps[1].MaxAttempts)
	}
}

func TestStartEmitsFirstStep(t *testing.T) {
	orch, _, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", map[string]any{"booking_id": "b-1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if instance.GetStatus() != StatusInProgress {
		t.Errorf("expected status IN_PROGRESS, got %s", instance.GetStatus())
	}

	requests := pub.byType("event.seats.reserve")
	if len(requests) != 1 {
		t.Fatalf("expected 1 reserve request, got %d", len(requests))
	}
	if requests[0].CorrelationID != instance.WorkflowID {
		t.Errorf("expected correlation id %s, got %s", instance.WorkflowID, requests[0].CorrelationID)
	}

	var req StepRequest
	if err := requests[0].Decode(&req); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}
	if req.StepName != "reserve_seats" {
		t.Errorf("expected step reserve_seats, got %s", req.StepName)
	}
	if req.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", req.Attempt)
	}
	if req.Context["booking_id"] != "b-1" {
		t.Errorf("expected booking_id in context, got %v", req.Context)
	}
}

func TestHappyPathCompletesAndArchives(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", map[string]any{"booking_id": "b-1"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
		Result:     map[string]any{"reservation_ids": []any{"r-1"}},
	})

	if len(pub.byType("payment.charge")) != 1 {
		t.Fatalf("expected payment step request after first step completed")
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "process_payment",
		Success:    true,
		Result:     map[string]any{"payment_id": "p-1"},
	})

	completed := pub.byType("booking.ticket_purchase.completed")
	if len(completed) != 1 {
		t.Fatalf("expected 1 completion event, got %d", len(completed))
	}

	archived, ok := store.Archived(instance.WorkflowID)
	if !ok {
		t.Fatal("expected instance to be archived")
	}
	if archived.Status != StatusCompleted {
		t.Errorf("expected archived status COMPLETED, got %s", archived.Status)
	}
	if archived.Context["reservation_ids"] == nil || archived.Context["payment_id"] != "p-1" {
		t.Errorf("expected step results merged into context, got %v", archived.Context)
	}
	if store.ActiveCount() != 0 {
		t.Errorf("expected empty active set, got %d", store.ActiveCount())
	}
}

func TestFailureCompensatesInReverse(t *testing.T) {
	orch, store, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
		Result:     map[string]any{"reservation_ids": []any{"r-1"}},
	})
	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "process_payment",
		Success:    false,
		Error:      "card declined",
	})

	comps := pub.byType("event.seats.release")
	if len(comps) != 1 {
		t.Fatalf("expected 1 compensation event, got %d", len(comps))
	}
	var comp StepRequest
	if err := comps[0].Decode(&comp); err != nil {
		t.Fatalf("failed to decode compensation: %v", err)
	}
	if !comp.Compensation {
		t.Error("expected compensation flag set")
	}
	if comp.Result["reservation_ids"] == nil {
		t.Errorf("expected original step result carried in compensation, got %v", comp.Result)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID:   instance.WorkflowID,
		StepName:     "reserve_seats",
		Success:      true,
		Compensation: true,
	})

	failed := pub.byType("booking.ticket_purchase.failed")
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(failed))
	}
	archived, ok := store.Archived(instance.WorkflowID)
	if !ok {
		t.Fatal("expected instance to be archived")
	}
	if archived.Status != StatusCompensated {
		t.Errorf("expected archived status COMPENSATED, got %s", archived.Status)
	}
}

func TestRetryableFailureReemitsRequest(t *testing.T) {
	orch, _, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    false,
		Error:      "lock contention",
		Retryable:  true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.byType("event.seats.reserve")) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	requests := pub.byType("event.seats.reserve")
	if len(requests) != 2 {
		t.Fatalf("expected re-emitted request, got %d requests", len(requests))
	}
	var req StepRequest
	if err := requests[1].Decode(&req); err != nil {
		t.Fatalf("failed to decode retry request: %v", err)
	}
	if req.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", req.Attempt)
	}
}

func TestRetriesExhaustedCompensate(t *testing.T) {
	orch, _, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
	})
	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "process_payment",
		Success:    false,
		Error:      "gateway unavailable",
		Retryable:  true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.byType("payment.charge")) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(pub.byType("payment.charge")); got != 2 {
		t.Fatalf("expected retry request, got %d requests", got)
	}

	// Second failure lands with attempts at the step maximum.
	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "process_payment",
		Success:    false,
		Error:      "gateway unavailable",
		Retryable:  true,
	})

	if got := len(pub.byType("event.seats.release")); got != 1 {
		t.Fatalf("expected compensation to begin, got %d release events", got)
	}
	if got := len(pub.byType("payment.charge")); got != 2 {
		t.Errorf("expected no further payment requests, got %d", got)
	}
}

func TestReplayedResponseIsIgnored(t *testing.T) {
	orch, _, pub := newTestOrchestrator(t)

	instance, err := orch.Start(context.Background(), "ticket_purchase", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	env, err := events.New("booking.reserve_seats.response", "test", &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
	})
	if err != nil {
		t.Fatalf("failed to build response event: %v", err)
	}
	env.WithCorrelation(instance.WorkflowID)

	if err := orch.HandleResponse(context.Background(), env); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}
	before := pub.count()
	// Same event id delivered again.
	if err := orch.HandleResponse(context.Background(), env); err != nil {
		t.Fatalf("HandleResponse replay failed: %v", err)
	}
	if pub.count() != before {
		t.Errorf("expected replay to publish nothing, got %d new events", pub.count()-before)
	}
}

func TestRecoverReemitsInFlightStep(t *testing.T) {
	store := NewMemoryStore()
	firstPub := &capturePublisher{}
	first := NewOrchestrator(&Config{Service: "booking-service", Store: store, Publisher: firstPub})
	if err := first.Register(testDefinition()); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}
	instance, err := first.Start(context.Background(), "ticket_purchase", map[string]any{"booking_id": "b-9"})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first.cancelTimers(instance.WorkflowID)

	// A fresh orchestrator over the same store stands in for a restart.
	pub := &capturePublisher{}
	orch := NewOrchestrator(&Config{Service: "booking-service", Store: store, Publisher: pub})
	if err := orch.Register(testDefinition()); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}
	if err := orch.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	requests := pub.byType("event.seats.reserve")
	if len(requests) != 1 {
		t.Fatalf("expected in-flight step re-emitted on recovery, got %d", len(requests))
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
	})
	if len(pub.byType("payment.charge")) != 1 {
		t.Errorf("expected workflow to continue after recovery")
	}
}

func TestGlobalTimeoutCompensates(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	orch := NewOrchestrator(&Config{Service: "booking-service", Store: store, Publisher: pub})

	def := testDefinition().WithGlobalTimeout(250 * time.Millisecond)
	if err := orch.Register(def); err != nil {
		t.Fatalf("failed to register definition: %v", err)
	}

	instance, err := orch.Start(context.Background(), "ticket_purchase", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	respond(t, orch, instance.WorkflowID, &StepResponse{
		WorkflowID: instance.WorkflowID,
		StepName:   "reserve_seats",
		Success:    true,
		Result:     map[string]any{"reservation_ids": []any{"r-1"}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(pub.byType("event.seats.release")) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(pub.byType("event.seats.release")) != 1 {
		t.Fatal("expected compensation after global timeout")
	}

	current, err := store.Get(context.Background(), instance.WorkflowID)
	if err != nil {
		t.Fatalf("failed to load instance: %v", err)
	}
	if current.Status != StatusCompensating {
		t.Errorf("expected status COMPENSATING, got %s", current.Status)
	}
}
