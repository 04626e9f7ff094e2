package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventix/eventix/internal/inventory/domain"
)

const eventColumns = `id, name, venue, starts_at, status, total_seats, created_at, updated_at`

// PostgresEventRepository implements EventRepository using PostgreSQL
type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

func (r *PostgresEventRepository) Create(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = domain.EventDraft
	}

	query := `
		INSERT INTO events (id, name, venue, starts_at, status, total_seats, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ID, event.Name, event.Venue, event.StartsAt,
		string(event.Status), event.TotalSeats, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	event := &domain.Event{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&event.ID, &event.Name, &event.Venue, &event.StartsAt,
		&status, &event.TotalSeats, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	event.Status = domain.EventStatus(status)
	return event, nil
}

func (r *PostgresEventRepository) List(ctx context.Context, limit, offset int) ([]*domain.Event, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + eventColumns + ` FROM events ORDER BY starts_at ASC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		event := &domain.Event{}
		var status string
		if err := rows.Scan(
			&event.ID, &event.Name, &event.Venue, &event.StartsAt,
			&status, &event.TotalSeats, &event.CreatedAt, &event.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		event.Status = domain.EventStatus(status)
		events = append(events, event)
	}
	return events, total, rows.Err()
}

func (r *PostgresEventRepository) UpdateStatus(ctx context.Context, id string, status domain.EventStatus) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE events SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
