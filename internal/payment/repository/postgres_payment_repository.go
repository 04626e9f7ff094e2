package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventix/eventix/internal/payment/domain"
	"github.com/eventix/eventix/pkg/telemetry"
)

const paymentColumns = `id, booking_id, user_id, amount, currency, status,
	COALESCE(intent_ref, ''), COALESCE(provider_ref, ''), COALESCE(refund_ref, ''),
	COALESCE(failure_reason, ''), completed_at, refunded_at, created_at, updated_at`

// PostgresPaymentRepository implements PaymentRepository using PostgreSQL
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new PostgreSQL payment repository
func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

func (r *PostgresPaymentRepository) UpsertPending(ctx context.Context, payment *domain.Payment) (*domain.Payment, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.upsert_pending")
	defer span.End()

	query := `
		INSERT INTO payments (id, booking_id, user_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING ` + paymentColumns

	row := r.pool.QueryRow(ctx, query,
		payment.ID, payment.BookingID, payment.UserID,
		payment.Amount, payment.Currency, domain.PaymentPending)

	created, err := scanPayment(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert payment: %w", err)
	}

	existing, err := r.GetByBookingID(ctx, payment.BookingID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.get_by_id")
	defer span.End()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	payment, err := scanPayment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (r *PostgresPaymentRepository) GetByBookingID(ctx context.Context, bookingID string) (*domain.Payment, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.get_by_booking_id")
	defer span.End()

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE booking_id = $1`

	payment, err := scanPayment(r.pool.QueryRow(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment by booking: %w", err)
	}
	return payment, nil
}

func (r *PostgresPaymentRepository) SetIntent(ctx context.Context, id, intentRef, providerRef string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.set_intent")
	defer span.End()

	query := `
		UPDATE payments
		SET intent_ref = $2, provider_ref = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, nullString(intentRef), nullString(providerRef))
	if err != nil {
		return fmt.Errorf("failed to set payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *PostgresPaymentRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.mark_processing")
	defer span.End()

	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentProcessing, domain.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresPaymentRepository) Complete(ctx context.Context, id, providerRef string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.complete")
	defer span.End()

	query := `
		UPDATE payments
		SET status = $2, provider_ref = COALESCE($3, provider_ref),
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentCompleted, nullString(providerRef), domain.PaymentProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresPaymentRepository) Fail(ctx context.Context, id, reason string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.fail")
	defer span.End()

	query := `
		UPDATE payments
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentFailed, nullString(reason), domain.PaymentProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresPaymentRepository) Refund(ctx context.Context, id, refundRef string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.refund")
	defer span.End()

	query := `
		UPDATE payments
		SET status = $2, refund_ref = $3, refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`

	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentRefunded, nullString(refundRef), domain.PaymentCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to refund payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresPaymentRepository) CancelPending(ctx context.Context, id string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment.cancel_pending")
	defer span.End()

	query := `
		UPDATE payments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, id, domain.PaymentCancelled, domain.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.Amount, &p.Currency, &p.Status,
		&p.IntentRef, &p.ProviderRef, &p.RefundRef, &p.FailureReason,
		&p.CompletedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
