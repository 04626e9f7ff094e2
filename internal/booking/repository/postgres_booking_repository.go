package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventix/eventix/internal/booking/domain"
	"github.com/eventix/eventix/pkg/telemetry"
)

// PostgresBookingRepository implements BookingRepository using
// PostgreSQL. Status moves go through Transition, which applies a
// compare-and-swap on the stored status.
type PostgresBookingRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingRepository creates a new PostgresBookingRepository
func NewPostgresBookingRepository(pool *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{pool: pool}
}

const bookingColumns = `
	id, booking_reference, user_id, event_id, status,
	total_amount, currency, expiry_date, confirmed_at, cancelled_at,
	COALESCE(cancel_reason, ''), customer_email, customer_name,
	COALESCE(customer_phone, ''), COALESCE(reservation_ids, '{}'),
	COALESCE(payment_id, ''), created_at, updated_at`

// Create persists the booking and its items in one transaction.
func (r *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO bookings (
			id, booking_reference, user_id, event_id, status,
			total_amount, currency, expiry_date,
			customer_email, customer_name, customer_phone,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, query,
		booking.ID,
		booking.BookingReference,
		booking.UserID,
		booking.EventID,
		string(booking.Status),
		booking.TotalAmount,
		booking.Currency,
		booking.ExpiryDate,
		booking.CustomerEmail,
		booking.CustomerName,
		nullString(booking.CustomerPhone),
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	itemQuery := `
		INSERT INTO booking_items (
			id, booking_id, seat_id, section_id, section_name,
			seat_row, seat_number, unit_price, quantity, total_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	batch := &pgx.Batch{}
	for _, item := range booking.Items {
		batch.Queue(itemQuery,
			item.ID,
			booking.ID,
			item.SeatID,
			item.SectionID,
			nullString(item.SectionName),
			nullString(item.SeatRow),
			item.SeatNumber,
			item.UnitPrice,
			item.Quantity,
			item.TotalPrice,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to create booking items: %w", err)
	}

	historyQuery := `
		INSERT INTO booking_history (id, booking_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, '', $3, 'created', NOW())
	`
	if _, err := tx.Exec(ctx, historyQuery, uuid.New().String(), booking.ID, string(booking.Status)); err != nil {
		return fmt.Errorf("failed to record booking history: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a booking with its items.
func (r *PostgresBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_by_id")
	defer span.End()

	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	booking, err := scanBooking(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	booking.Items = items
	return booking, nil
}

// ListByUser lists a user's bookings, newest first.
func (r *PostgresBookingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// Transition moves the booking between statuses with a CAS guard and
// records a history row. Returns false without error when the stored
// status did not match any of the expected ones.
func (r *PostgresBookingRepository) Transition(ctx context.Context, id string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	moved, err := r.transitionTx(ctx, tx, id, from, to, reason)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return moved, nil
}

// TransitionOnEvent applies Transition and the processed-events guard
// row for the bus event in one transaction. A failed transition rolls
// the guard back with it, so the delivery can retry; a replayed event
// id returns fresh=false without touching the booking.
func (r *PostgresBookingRepository) TransitionOnEvent(ctx context.Context, id, eventID string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (moved, fresh bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition_on_event")
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transition transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	guard := `
		INSERT INTO processed_events (booking_id, event_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (booking_id, event_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, guard, id, eventID)
	if err != nil {
		return false, false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, false, nil
	}

	moved, err = r.transitionTx(ctx, tx, id, from, to, reason)
	if err != nil {
		return false, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, false, err
	}
	return moved, true, nil
}

func (r *PostgresBookingRepository) transitionTx(ctx context.Context, tx pgx.Tx, id string, from []domain.BookingStatus, to domain.BookingStatus, reason string) (bool, error) {
	var fromStatus string
	err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, id).Scan(&fromStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrBookingNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock booking: %w", err)
	}

	matched := false
	for _, s := range from {
		if fromStatus == string(s) {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	query := `
		UPDATE bookings SET
			status = $2,
			cancel_reason = CASE WHEN $2 IN ('CANCELLED', 'EXPIRED') THEN $3 ELSE cancel_reason END,
			confirmed_at = CASE WHEN $2 = 'CONFIRMED' THEN NOW() ELSE confirmed_at END,
			cancelled_at = CASE WHEN $2 IN ('CANCELLED', 'EXPIRED') THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, id, string(to), nullString(reason)); err != nil {
		return false, fmt.Errorf("failed to transition booking: %w", err)
	}

	historyQuery := `
		INSERT INTO booking_history (id, booking_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := tx.Exec(ctx, historyQuery, uuid.New().String(), id, fromStatus, string(to), nullString(reason)); err != nil {
		return false, fmt.Errorf("failed to record booking history: %w", err)
	}
	return true, nil
}

// SetReservations records the reservation ids holding the seats.
func (r *PostgresBookingRepository) SetReservations(ctx context.Context, id string, reservationIDs []string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.set_reservations")
	defer span.End()

	query := `UPDATE bookings SET reservation_ids = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, reservationIDs)
	if err != nil {
		return fmt.Errorf("failed to set reservations: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// SetPaymentID links the payment record once known.
func (r *PostgresBookingRepository) SetPaymentID(ctx context.Context, id, paymentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.set_payment_id")
	defer span.End()

	query := `UPDATE bookings SET payment_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, paymentID)
	if err != nil {
		return fmt.Errorf("failed to set payment id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

// MarkProcessed records an inbound event id against the booking.
// Returns false when the event was already processed.
func (r *PostgresBookingRepository) MarkProcessed(ctx context.Context, bookingID, eventID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.mark_processed")
	defer span.End()

	query := `
		INSERT INTO processed_events (booking_id, event_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (booking_id, event_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, bookingID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns PENDING bookings past their expiry date.
func (r *PostgresBookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_expired")
	defer span.End()

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'PENDING' AND expiry_date < $1
		ORDER BY expiry_date
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	return bookings, rows.Err()
}

// GetHistory returns the booking's audit trail, oldest first.
func (r *PostgresBookingRepository) GetHistory(ctx context.Context, bookingID string) ([]*domain.BookingHistory, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get_history")
	defer span.End()

	query := `
		SELECT id, booking_id, from_status, to_status, COALESCE(reason, ''), created_at
		FROM booking_history
		WHERE booking_id = $1
		ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	defer rows.Close()

	var history []*domain.BookingHistory
	for rows.Next() {
		h := &domain.BookingHistory{}
		var from, to string
		if err := rows.Scan(&h.ID, &h.BookingID, &from, &to, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.FromStatus = domain.BookingStatus(from)
		h.ToStatus = domain.BookingStatus(to)
		history = append(history, h)
	}
	return history, rows.Err()
}

func (r *PostgresBookingRepository) getItems(ctx context.Context, bookingID string) ([]*domain.BookingItem, error) {
	query := `
		SELECT id, booking_id, seat_id, section_id, COALESCE(section_name, ''),
			   COALESCE(seat_row, ''), seat_number, unit_price, quantity, total_price
		FROM booking_items
		WHERE booking_id = $1
		ORDER BY seat_id
	`
	rows, err := r.pool.Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking items: %w", err)
	}
	defer rows.Close()

	var items []*domain.BookingItem
	for rows.Next() {
		item := &domain.BookingItem{}
		if err := rows.Scan(
			&item.ID, &item.BookingID, &item.SeatID, &item.SectionID, &item.SectionName,
			&item.SeatRow, &item.SeatNumber, &item.UnitPrice, &item.Quantity, &item.TotalPrice,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	booking := &domain.Booking{}
	var status string
	err := row.Scan(
		&booking.ID,
		&booking.BookingReference,
		&booking.UserID,
		&booking.EventID,
		&status,
		&booking.TotalAmount,
		&booking.Currency,
		&booking.ExpiryDate,
		&booking.ConfirmedAt,
		&booking.CancelledAt,
		&booking.CancelReason,
		&booking.CustomerEmail,
		&booking.CustomerName,
		&booking.CustomerPhone,
		&booking.ReservationIDs,
		&booking.PaymentID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	booking.Status = domain.BookingStatus(status)
	return booking, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
