package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventix/eventix/internal/inventory/domain"
	"github.com/eventix/eventix/pkg/telemetry"
)

// PostgresInventoryRepository implements InventoryRepository using
// PostgreSQL. All multi-row mutations lock the seat rows FOR UPDATE in
// ascending id order so concurrent reservers cannot deadlock.
type PostgresInventoryRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresInventoryRepository creates a new PostgresInventoryRepository
func NewPostgresInventoryRepository(pool *pgxpool.Pool) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{pool: pool}
}

// CheckAvailability reports whether each seat can currently be
// reserved for the event. No locks are taken, the answer is advisory.
func (r *PostgresInventoryRepository) CheckAvailability(ctx context.Context, eventID string, seatIDs []string) ([]*domain.SeatAvailability, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.inventory.check_availability")
	defer span.End()

	query := `
		SELECT s.id,
			   s.status = 'AVAILABLE' AND NOT EXISTS (
				   SELECT 1 FROM reservations r
				   WHERE r.seat_id = s.id
					 AND r.event_id = $1
					 AND r.status IN ('PENDING', 'CONFIRMED')
					 AND NOT (r.status = 'PENDING' AND r.expires_at < NOW())
			   ) AS available
		FROM seats s
		WHERE s.id = ANY($2)
	`
	rows, err := r.pool.Query(ctx, query, eventID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(seatIDs))
	var result []*domain.SeatAvailability
	for rows.Next() {
		var a domain.SeatAvailability
		if err := rows.Scan(&a.SeatID, &a.Available); err != nil {
			return nil, err
		}
		found[a.SeatID] = true
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range seatIDs {
		if !found[id] {
			return nil, fmt.Errorf("%w: %s", domain.ErrSeatNotFound, id)
		}
	}
	return result, nil
}

// Reserve reserves all requested seats in one transaction. Any seat
// that is not reservable fails the whole attempt with ErrSeatConflict.
func (r *PostgresInventoryRepository) Reserve(ctx context.Context, params *ReserveParams) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.inventory.reserve")
	defer span.End()

	seatIDs := append([]string(nil), params.SeatIDs...)
	sort.Strings(seatIDs)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reserve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the seat rows in canonical order.
	lockQuery := `
		SELECT id, status FROM seats
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lockQuery, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to lock seats: %w", err)
	}
	statuses := make(map[string]domain.SeatStatus, len(seatIDs))
	for rows.Next() {
		var id string
		var status domain.SeatStatus
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return nil, err
		}
		statuses[id] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range seatIDs {
		status, ok := statuses[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrSeatNotFound, id)
		}
		if status != domain.SeatAvailable {
			return nil, domain.ErrSeatConflict
		}
	}

	// The seat status check covers most conflicts; active reservations
	// for the same (seat, event) are checked explicitly because seats
	// are shared across events.
	var activeCount int
	activeQuery := `
		SELECT COUNT(*) FROM reservations
		WHERE seat_id = ANY($1)
		  AND event_id = $2
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND NOT (status = 'PENDING' AND expires_at < NOW())
	`
	if err := tx.QueryRow(ctx, activeQuery, seatIDs, params.EventID).Scan(&activeCount); err != nil {
		return nil, fmt.Errorf("failed to check active reservations: %w", err)
	}
	if activeCount > 0 {
		return nil, domain.ErrSeatConflict
	}

	now := time.Now().UTC()
	expiresAt := now.Add(params.TTL)
	reservations := make([]*domain.Reservation, 0, len(seatIDs))

	insert := `
		INSERT INTO reservations (
			id, seat_id, event_id, user_id, status,
			reserved_at, expires_at, reserved_price, currency
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, seatID := range seatIDs {
		res := &domain.Reservation{
			ID:            uuid.New().String(),
			SeatID:        seatID,
			EventID:       params.EventID,
			UserID:        params.UserID,
			Status:        domain.ReservationPending,
			ReservedAt:    now,
			ExpiresAt:     expiresAt,
			ReservedPrice: params.SeatPrices[seatID],
			Currency:      params.Currency,
		}
		if _, err := tx.Exec(ctx, insert,
			res.ID, res.SeatID, res.EventID, res.UserID, string(res.Status),
			res.ReservedAt, res.ExpiresAt, res.ReservedPrice, res.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to insert reservation: %w", err)
		}
		reservations = append(reservations, res)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE seats SET status = 'RESERVED', updated_at = $2 WHERE id = ANY($1)`,
		seatIDs, now,
	); err != nil {
		return nil, fmt.Errorf("failed to update seat status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return reservations, nil
}

// Confirm flips reservations to CONFIRMED and seats to OCCUPIED. A
// reservation already confirmed with the same booking_ref is a no-op;
// a reservation the sweeper already expired fails with
// ErrReservationExpired.
func (r *PostgresInventoryRepository) Confirm(ctx context.Context, reservationIDs []string, bookingRef string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.inventory.confirm")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin confirm transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT r.id, r.seat_id, r.status, r.expires_at, COALESCE(r.booking_ref, '')
		FROM reservations r
		JOIN seats s ON s.id = r.seat_id
		WHERE r.id = ANY($1)
		ORDER BY r.seat_id
		FOR UPDATE OF r, s
	`, reservationIDs)
	if err != nil {
		return fmt.Errorf("failed to lock reservations: %w", err)
	}

	type row struct {
		id, seatID string
		status     domain.ReservationStatus
		expiresAt  time.Time
		ref        string
	}
	var locked []row
	for rows.Next() {
		var rr row
		if err := rows.Scan(&rr.id, &rr.seatID, &rr.status, &rr.expiresAt, &rr.ref); err != nil {
			rows.Close()
			return err
		}
		locked = append(locked, rr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(locked) != len(reservationIDs) {
		return domain.ErrReservationNotFound
	}

	now := time.Now().UTC()
	var toConfirm []row
	for _, rr := range locked {
		switch {
		case rr.status == domain.ReservationConfirmed && rr.ref == bookingRef:
			// Replayed confirm.
			continue
		case rr.status == domain.ReservationExpired,
			rr.status == domain.ReservationPending && now.After(rr.expiresAt):
			return domain.ErrReservationExpired
		case rr.status != domain.ReservationPending:
			return fmt.Errorf("reservation %s is %s and cannot be confirmed", rr.id, rr.status)
		default:
			toConfirm = append(toConfirm, rr)
		}
	}

	for _, rr := range toConfirm {
		if _, err := tx.Exec(ctx, `
			UPDATE reservations
			SET status = 'CONFIRMED', confirmed_at = $2, booking_ref = $3
			WHERE id = $1
		`, rr.id, now, bookingRef); err != nil {
			return fmt.Errorf("failed to confirm reservation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE seats SET status = 'OCCUPIED', updated_at = $2 WHERE id = $1`,
			rr.seatID, now,
		); err != nil {
			return fmt.Errorf("failed to occupy seat: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Release cancels reservations and frees their seats. Already released
// reservations are skipped.
func (r *PostgresInventoryRepository) Release(ctx context.Context, reservationIDs []string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.inventory.release")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	result, err := tx.Exec(ctx, `
		UPDATE reservations
		SET status = 'CANCELLED'
		WHERE id = ANY($1)
		  AND status IN ('PENDING', 'CONFIRMED')
	`, reservationIDs)
	if err != nil {
		return fmt.Errorf("failed to cancel reservations: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Everything was already released, nothing to do.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE seats SET status = 'AVAILABLE', updated_at = $2
		WHERE id IN (
			SELECT seat_id FROM reservations WHERE id = ANY($1)
		) AND status IN ('RESERVED', 'OCCUPIED')
	`, reservationIDs, now); err != nil {
		return fmt.Errorf("failed to free seats: %w", err)
	}
	return tx.Commit(ctx)
}

// SweepExpired expires overdue PENDING reservations and frees their
// seats, returning the expired reservations for event publication.
func (r *PostgresInventoryRepository) SweepExpired(ctx context.Context) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.inventory.sweep_expired")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin sweep transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE reservations
		SET status = 'EXPIRED'
		WHERE status = 'PENDING' AND expires_at < NOW()
		RETURNING id, seat_id, event_id, user_id, reserved_at, expires_at, reserved_price, currency
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to expire reservations: %w", err)
	}

	var expired []*domain.Reservation
	var seatIDs []string
	for rows.Next() {
		res := &domain.Reservation{Status: domain.ReservationExpired}
		if err := rows.Scan(
			&res.ID, &res.SeatID, &res.EventID, &res.UserID,
			&res.ReservedAt, &res.ExpiresAt, &res.ReservedPrice, &res.Currency,
		); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, res)
		seatIDs = append(seatIDs, res.SeatID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE seats SET status = 'AVAILABLE', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'RESERVED'
	`, seatIDs); err != nil {
		return nil, fmt.Errorf("failed to free expired seats: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

// GetReservations loads reservations by id.
func (r *PostgresInventoryRepository) GetReservations(ctx context.Context, reservationIDs []string) ([]*domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seat_id, event_id, user_id, status, reserved_at, expires_at,
			   confirmed_at, COALESCE(booking_ref, ''), reserved_price, currency
		FROM reservations
		WHERE id = ANY($1)
	`, reservationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Reservation
	for rows.Next() {
		res := &domain.Reservation{}
		var status string
		if err := rows.Scan(
			&res.ID, &res.SeatID, &res.EventID, &res.UserID, &status,
			&res.ReservedAt, &res.ExpiresAt, &res.ConfirmedAt, &res.BookingRef,
			&res.ReservedPrice, &res.Currency,
		); err != nil {
			return nil, err
		}
		res.Status = domain.ReservationStatus(status)
		result = append(result, res)
	}
	return result, rows.Err()
}

// CreateSeats bulk-inserts seats.
func (r *PostgresInventoryRepository) CreateSeats(ctx context.Context, seats []*domain.Seat) error {
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, seat := range seats {
		if seat.ID == "" {
			seat.ID = uuid.New().String()
		}
		if seat.Status == "" {
			seat.Status = domain.SeatAvailable
		}
		batch.Queue(`
			INSERT INTO seats (id, section_id, row_label, seat_number, seat_type, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, seat.ID, seat.SectionID, seat.Row, seat.Number, string(seat.Type), string(seat.Status), now)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range seats {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create seats: %w", err)
		}
	}
	return nil
}
