package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/internal/inventory/repository"
	"github.com/eventix/eventix/pkg/events"
)

// MockInventoryRepository is an in-memory implementation of
// InventoryRepository backed by maps.
type MockInventoryRepository struct {
	mu           sync.Mutex
	seats        map[string]*domain.Seat
	reservations map[string]*domain.Reservation
	nextID       int
	reserveErr   error
	sweepErr     error
}

func NewMockInventoryRepository() *MockInventoryRepository {
	return &MockInventoryRepository{
		seats:        make(map[string]*domain.Seat),
		reservations: make(map[string]*domain.Reservation),
	}
}

func (m *MockInventoryRepository) AddSeat(id string, status domain.SeatStatus) {
	m.seats[id] = &domain.Seat{ID: id, Status: status}
}

func (m *MockInventoryRepository) AddReservation(res *domain.Reservation) {
	m.reservations[res.ID] = res
}

func (m *MockInventoryRepository) CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.SeatAvailability, 0, len(seatIDs))
	for _, id := range seatIDs {
		seat, ok := m.seats[id]
		if !ok {
			return nil, domain.ErrSeatNotFound
		}
		out = append(out, &domain.SeatAvailability{
			SeatID:    id,
			Available: seat.Status == domain.SeatAvailable,
		})
	}
	return out, nil
}

func (m *MockInventoryRepository) Reserve(ctx context.Context, params *repository.ReserveParams) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	for _, id := range params.SeatIDs {
		seat, ok := m.seats[id]
		if !ok {
			return nil, domain.ErrSeatNotFound
		}
		if seat.Status != domain.SeatAvailable {
			return nil, domain.ErrSeatConflict
		}
	}
	now := time.Now()
	out := make([]*domain.Reservation, 0, len(params.SeatIDs))
	for _, id := range params.SeatIDs {
		m.seats[id].Status = domain.SeatReserved
		m.nextID++
		res := &domain.Reservation{
			ID:            fmt.Sprintf("res-%d", m.nextID),
			SeatID:        id,
			EventID:       params.EventID,
			UserID:        params.UserID,
			Status:        domain.ReservationPending,
			ReservedAt:    now,
			ExpiresAt:     now.Add(params.TTL),
			ReservedPrice: params.SeatPrices[id],
			Currency:      params.Currency,
		}
		m.reservations[res.ID] = res
		out = append(out, res)
	}
	return out, nil
}

func (m *MockInventoryRepository) Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range reservationIDs {
		res, ok := m.reservations[id]
		if !ok {
			return domain.ErrReservationNotFound
		}
		if res.Expired(time.Now()) {
			return domain.ErrReservationExpired
		}
		res.Status = domain.ReservationConfirmed
		res.BookingRef = bookingRef
		if seat, ok := m.seats[res.SeatID]; ok {
			seat.Status = domain.SeatOccupied
		}
	}
	return nil
}

func (m *MockInventoryRepository) Release(ctx context.Context, reservationIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range reservationIDs {
		res, ok := m.reservations[id]
		if !ok {
			continue
		}
		if res.Status == domain.ReservationPending || res.Status == domain.ReservationConfirmed {
			res.Status = domain.ReservationCancelled
			if seat, ok := m.seats[res.SeatID]; ok {
				seat.Status = domain.SeatAvailable
			}
		}
	}
	return nil
}

func (m *MockInventoryRepository) SweepExpired(ctx context.Context) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepErr != nil {
		return nil, m.sweepErr
	}
	var expired []*domain.Reservation
	now := time.Now()
	for _, res := range m.reservations {
		if res.Status == domain.ReservationPending && res.Expired(now) {
			res.Status = domain.ReservationExpired
			if seat, ok := m.seats[res.SeatID]; ok && seat.Status == domain.SeatReserved {
				seat.Status = domain.SeatAvailable
			}
			expired = append(expired, res)
		}
	}
	return expired, nil
}

func (m *MockInventoryRepository) GetReservations(ctx context.Context, reservationIDs []string) ([]*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Reservation, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		if res, ok := m.reservations[id]; ok {
			out = append(out, res)
		}
	}
	return out, nil
}

func (m *MockInventoryRepository) CreateSeats(ctx context.Context, seats []*domain.Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seat := range seats {
		m.seats[seat.ID] = seat
	}
	return nil
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

func TestInventoryService_Reserve(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatAvailable)
	repo.AddSeat("seat-2", domain.SeatAvailable)
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	ctx := context.Background()
	reservations, err := svc.Reserve(ctx, &repository.ReserveParams{
		EventID: "event-1",
		UserID:  "user-1",
		SeatIDs: []string{"seat-1", "seat-2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(reservations))
	}
	for _, res := range reservations {
		if res.Status != domain.ReservationPending {
			t.Errorf("expected status PENDING, got %s", res.Status)
		}
		if res.ExpiresAt.Before(time.Now().Add(14 * time.Minute)) {
			t.Error("expected default TTL to be applied")
		}
	}
}

func TestInventoryService_ReserveConflict(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatAvailable)
	repo.AddSeat("seat-2", domain.SeatReserved)
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	_, err := svc.Reserve(context.Background(), &repository.ReserveParams{
		EventID: "event-1",
		UserID:  "user-1",
		SeatIDs: []string{"seat-1", "seat-2"},
	})
	if !errors.Is(err, domain.ErrSeatConflict) {
		t.Fatalf("expected ErrSeatConflict, got %v", err)
	}
	// All-or-nothing: the available seat must not be held.
	if repo.seats["seat-1"].Status != domain.SeatAvailable {
		t.Errorf("expected seat-1 to stay AVAILABLE, got %s", repo.seats["seat-1"].Status)
	}
}

func TestInventoryService_ReleasePublishesSeatReleased(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatReserved)
	repo.AddReservation(&domain.Reservation{
		ID:        "res-1",
		SeatID:    "seat-1",
		EventID:   "event-1",
		UserID:    "user-1",
		Status:    domain.ReservationPending,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	if err := svc.Release(context.Background(), []string{"res-1"}, "user_cancelled"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	released := pub.byType(events.SeatReleased)
	if len(released) != 1 {
		t.Fatalf("expected 1 seat.released event, got %d", len(released))
	}
	var data events.SeatReleasedData
	if err := released[0].Decode(&data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.Reason != "user_cancelled" {
		t.Errorf("expected reason user_cancelled, got %s", data.Reason)
	}
	if len(data.SeatIDs) != 1 || data.SeatIDs[0] != "seat-1" {
		t.Errorf("unexpected seat ids: %v", data.SeatIDs)
	}
	if repo.seats["seat-1"].Status != domain.SeatAvailable {
		t.Errorf("expected seat to return to AVAILABLE, got %s", repo.seats["seat-1"].Status)
	}
}

func TestInventoryService_ReleaseIdempotent(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatAvailable)
	repo.AddReservation(&domain.Reservation{
		ID:      "res-1",
		SeatID:  "seat-1",
		EventID: "event-1",
		Status:  domain.ReservationCancelled,
	})
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	if err := svc.Release(context.Background(), []string{"res-1"}, "user_cancelled"); err != nil {
		t.Fatalf("expected releasing a cancelled reservation to succeed, got %v", err)
	}
	if err := svc.Release(context.Background(), []string{"missing"}, "user_cancelled"); err != nil {
		t.Fatalf("expected releasing an unknown reservation to succeed, got %v", err)
	}
}

func TestInventoryService_SweepExpired(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatReserved)
	repo.AddSeat("seat-2", domain.SeatReserved)
	repo.AddReservation(&domain.Reservation{
		ID:        "res-1",
		SeatID:    "seat-1",
		EventID:   "event-1",
		Status:    domain.ReservationPending,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	repo.AddReservation(&domain.Reservation{
		ID:        "res-2",
		SeatID:    "seat-2",
		EventID:   "event-1",
		Status:    domain.ReservationPending,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	count, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired reservation, got %d", count)
	}
	released := pub.byType(events.SeatReleased)
	if len(released) != 1 {
		t.Fatalf("expected 1 seat.released event, got %d", len(released))
	}
	var data events.SeatReleasedData
	if err := released[0].Decode(&data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.Reason != "expired" {
		t.Errorf("expected reason expired, got %s", data.Reason)
	}
	if repo.reservations["res-2"].Status != domain.ReservationPending {
		t.Errorf("live reservation must not be swept")
	}
}

func TestInventoryService_SweepExpiredEmpty(t *testing.T) {
	repo := NewMockInventoryRepository()
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	count, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
	if len(pub.published) != 0 {
		t.Errorf("expected no events, got %d", len(pub.published))
	}
}

func TestInventoryService_ConfirmExpired(t *testing.T) {
	repo := NewMockInventoryRepository()
	repo.AddSeat("seat-1", domain.SeatReserved)
	repo.AddReservation(&domain.Reservation{
		ID:        "res-1",
		SeatID:    "seat-1",
		EventID:   "event-1",
		Status:    domain.ReservationPending,
		ExpiresAt: time.Now().Add(-time.Second),
	})
	pub := &capturePublisher{}
	svc := NewInventoryService(repo, pub)

	err := svc.Confirm(context.Background(), []string{"res-1"}, "BK20260826DEADBEEF")
	if !errors.Is(err, domain.ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
}
