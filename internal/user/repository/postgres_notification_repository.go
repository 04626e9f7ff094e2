package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventix/eventix/internal/user/domain"
	"github.com/eventix/eventix/pkg/telemetry"
)

// PostgresNotificationRepository implements NotificationRepository
// using PostgreSQL
type PostgresNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresNotificationRepository creates a new PostgresNotificationRepository
func NewPostgresNotificationRepository(pool *pgxpool.Pool) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{pool: pool}
}

func (r *PostgresNotificationRepository) Record(ctx context.Context, n *domain.Notification) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.notification.record")
	defer span.End()

	query := `
		INSERT INTO notifications (id, user_id, type, subject, body, source_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, source_event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		n.ID, n.UserID, n.Type, n.Subject, n.Body, n.SourceEventID)
	if err != nil {
		return false, fmt.Errorf("failed to record notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresNotificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Notification, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.notification.list_by_user")
	defer span.End()

	query := `
		SELECT id, user_id, type, subject, body, source_event_id, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Subject, &n.Body, &n.SourceEventID, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
