package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/pkg/events"
	"github.com/eventix/eventix/pkg/workflow"
)

// fakeInventory is a canned InventoryService for dispatch tests.
type fakeInventory struct {
	mu         sync.Mutex
	reserveErr error
	reserved   []*repository.ReserveParams
	released   [][]string
	releaseErr error
	available  bool
}

func (f *fakeInventory) CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error) {
	out := make([]*domain.SeatAvailability, 0, len(seatIDs))
	for _, id := range seatIDs {
		out = append(out, &domain.SeatAvailability{SeatID: id, Available: f.available})
	}
	return out, nil
}

func (f *fakeInventory) Reserve(ctx context.Context, params *repository.ReserveParams) ([]*domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	f.reserved = append(f.reserved, params)
	out := make([]*domain.Reservation, 0, len(params.SeatIDs))
	for i, id := range params.SeatIDs {
		out = append(out, &domain.Reservation{
			ID:        "res-" + string(rune('a'+i)),
			SeatID:    id,
			EventID:   params.EventID,
			UserID:    params.UserID,
			Status:    domain.ReservationPending,
			ExpiresAt: time.Now().Add(params.TTL),
		})
	}
	return out, nil
}

func (f *fakeInventory) Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error {
	return nil
}

func (f *fakeInventory) Release(ctx context.Context, reservationIDs []string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, reservationIDs)
	return nil
}

func (f *fakeInventory) SweepExpired(ctx context.Context) (int, error) {
	return 0, nil
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

func (p *capturePublisher) byType(eventType events.Type) []*events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.Envelope
	for _, env := range p.published {
		if env.EventType == eventType {
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

func (p *capturePublisher) last(t *testing.T) *events.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.published) == 0 {
		t.Fatal("expected a published event")
	}
	return p.published[len(p.published)-1]
}

func stepEnvelope(t *testing.T, eventType events.Type, req *workflow.StepRequest) *events.Envelope {
	t.Helper()
	env, err := events.New(eventType, "booking-service", req)
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	env.WithCorrelation(req.WorkflowID)
	return env
}

func TestHandle_BookingInitiatedDoesNotReserve(t *testing.T) {
	inv := &fakeInventory{}
	pub := &capturePublisher{}
	c := NewInventoryConsumer(inv, pub, 15*time.Minute)

	env, err := events.New(events.BookingInitiated, "booking-service", &events.BookingInitiatedData{
		BookingID: "booking-1",
		EventID:   "event-1",
		UserID:    "user-1",
		Items: []events.BookingItem{
			{SeatID: "seat-1", Price: 50},
			{SeatID: "seat-2", Price: 50},
		},
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.reserved) != 0 {
		t.Fatalf("booking.initiated must not hold seats, got %d reserve calls", len(inv.reserved))
	}
	if pub.count() != 0 {
		t.Errorf("expected no published events, got %d", pub.count())
	}
}

func TestHandle_SeatsReserveStep(t *testing.T) {
	inv := &fakeInventory{}
	pub := &capturePublisher{}
	c := NewInventoryConsumer(inv, pub, 15*time.Minute)

	env := stepEnvelope(t, events.SeatsReserve, &workflow.StepRequest{
		WorkflowID:   "wf-1",
		WorkflowType: "booking_confirmation",
		StepName:     "reserve_seats",
		Context: map[string]any{
			"booking_id":  "booking-1",
			"event_id":    "event-1",
			"user_id":     "user-1",
			"currency":    "USD",
			"seat_prices": map[string]any{"seat-1": 75.0},
			"seat_ids":    []any{"seat-1"},
		},
		Attempt: 1,
	})

	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := inv.reserved[0].SeatPrices["seat-1"]; got != 75.0 {
		t.Errorf("expected seat price 75.0, got %v", got)
	}

	reply := pub.last(t)
	if reply.EventType != events.SeatsReserveResponse {
		t.Fatalf("expected %s, got %s", events.SeatsReserveResponse, reply.EventType)
	}
	if reply.CorrelationID != "wf-1" {
		t.Errorf("expected correlation wf-1, got %s", reply.CorrelationID)
	}
	var resp workflow.StepResponse
	if err := reply.Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %s", resp.Error)
	}
	ids, ok := resp.Result["reservation_ids"].([]any)
	if !ok || len(ids) != 1 {
		t.Errorf("expected one reservation id in result, got %v", resp.Result)
	}

	facts := pub.byType(events.SeatReserved)
	if len(facts) != 1 {
		t.Fatalf("expected one seat.reserved fact, got %d", len(facts))
	}
	var data events.SeatReservedData
	if err := facts[0].Decode(&data); err != nil {
		t.Fatalf("failed to decode fact payload: %v", err)
	}
	if !data.Success {
		t.Error("expected success fact")
	}
	if data.BookingID != "booking-1" {
		t.Errorf("expected booking-1, got %s", data.BookingID)
	}
	if len(data.ReservationIDs) != 1 {
		t.Errorf("expected one reservation id, got %v", data.ReservationIDs)
	}
}

func TestHandle_SeatsReserveStepConflictNotRetryable(t *testing.T) {
	inv := &fakeInventory{reserveErr: domain.ErrSeatConflict}
	pub := &capturePublisher{}
	c := NewInventoryConsumer(inv, pub, 15*time.Minute)

	env := stepEnvelope(t, events.SeatsReserve, &workflow.StepRequest{
		WorkflowID: "wf-1",
		StepName:   "reserve_seats",
		Context:    map[string]any{"event_id": "event-1", "seat_ids": []any{"seat-1"}},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp workflow.StepResponse
	if err := pub.last(t).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success {
		t.Error("expected failure")
	}
	if resp.Retryable {
		t.Error("seat conflicts must not be retryable")
	}
	if facts := pub.byType(events.SeatReserved); len(facts) != 0 {
		t.Errorf("expected no seat.reserved fact on failure, got %d", len(facts))
	}
}

func TestHandle_SeatsReleaseCompensation(t *testing.T) {
	inv := &fakeInventory{}
	pub := &capturePublisher{}
	c := NewInventoryConsumer(inv, pub, 15*time.Minute)

	env := stepEnvelope(t, events.SeatsRelease, &workflow.StepRequest{
		WorkflowID:   "wf-1",
		StepName:     "reserve_seats",
		Compensation: true,
		Result:       map[string]any{"reservation_ids": []any{"res-1", "res-2"}},
	})
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inv.released) != 1 || len(inv.released[0]) != 2 {
		t.Fatalf("expected one release of two reservations, got %v", inv.released)
	}

	var resp workflow.StepResponse
	if err := pub.last(t).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Compensation {
		t.Error("expected compensation response")
	}
	if !resp.Success {
		t.Errorf("expected success, got %s", resp.Error)
	}
}

func TestHandle_AvailabilityCheck(t *testing.T) {
	tests := []struct {
		name        string
		available   bool
		wantSuccess bool
	}{
		{name: "all seats available", available: true, wantSuccess: true},
		{name: "seat taken", available: false, wantSuccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInventory{available: tt.available}
			pub := &capturePublisher{}
			c := NewInventoryConsumer(inv, pub, 15*time.Minute)

			env := stepEnvelope(t, events.AvailabilityCheck, &workflow.StepRequest{
				WorkflowID: "wf-1",
				StepName:   "check_availability",
				Context:    map[string]any{"event_id": "event-1", "seat_ids": []any{"seat-1"}},
			})
			if err := c.Handle(context.Background(), env); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var resp workflow.StepResponse
			if err := pub.last(t).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("expected success=%v, got %v (%s)", tt.wantSuccess, resp.Success, resp.Error)
			}
		})
	}
}

func TestHandle_UnknownTypeDropped(t *testing.T) {
	inv := &fakeInventory{}
	pub := &capturePublisher{}
	c := NewInventoryConsumer(inv, pub, 15*time.Minute)

	env, err := events.New("warehouse.shipment.created", "warehouse", map[string]any{})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}
	if err := c.Handle(context.Background(), env); err != nil {
		t.Fatalf("unknown types must be dropped, got %v", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("expected no events, got %d", len(pub.published))
	}
}
