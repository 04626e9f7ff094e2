package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists workflow instances in the workflow_instances
// table and terminal instances in workflow_archive.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed workflow store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, instance *Instance) error {
	contextJSON, stepsJSON, processedJSON, err := marshalInstance(instance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (
			workflow_id, workflow_type, status, context, steps,
			current_step, processed_events, error, deadline,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.pool.Exec(ctx, query,
		instance.WorkflowID,
		instance.WorkflowType,
		string(instance.Status),
		contextJSON,
		stepsJSON,
		instance.CurrentStep,
		processedJSON,
		nullable(instance.Error),
		instance.Deadline,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, workflowID string) (*Instance, error) {
	query := `
		SELECT workflow_id, workflow_type, status, context, steps,
			   current_step, processed_events, error, deadline,
			   created_at, updated_at, completed_at
		FROM workflow_instances
		WHERE workflow_id = $1
	`
	return scanInstance(s.pool.QueryRow(ctx, query, workflowID))
}

func (s *PostgresStore) Update(ctx context.Context, instance *Instance) error {
	contextJSON, stepsJSON, processedJSON, err := marshalInstance(instance)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances
		SET status = $2,
			context = $3,
			steps = $4,
			current_step = $5,
			processed_events = $6,
			error = $7,
			deadline = $8,
			updated_at = $9,
			completed_at = $10
		WHERE workflow_id = $1
	`
	result, err := s.pool.Exec(ctx, query,
		instance.WorkflowID,
		string(instance.Status),
		contextJSON,
		stepsJSON,
		instance.CurrentStep,
		processedJSON,
		nullable(instance.Error),
		instance.Deadline,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *PostgresStore) GetActive(ctx context.Context, limit int) ([]*Instance, error) {
	query := `
		SELECT workflow_id, workflow_type, status, context, steps,
			   current_step, processed_events, error, deadline,
			   created_at, updated_at, completed_at
		FROM workflow_instances
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, string(StatusInProgress), string(StatusCompensating))
	if err != nil {
		return nil, fmt.Errorf("failed to get active workflows: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow instances: %w", err)
	}
	return instances, nil
}

// Archive copies the instance into workflow_archive and removes it
// from the active table in one transaction.
func (s *PostgresStore) Archive(ctx context.Context, instance *Instance) error {
	contextJSON, stepsJSON, _, err := marshalInstance(instance)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO workflow_archive (
			workflow_id, workflow_type, status, context, steps,
			error, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insert,
		instance.WorkflowID,
		instance.WorkflowType,
		string(instance.Status),
		contextJSON,
		stepsJSON,
		nullable(instance.Error),
		instance.CreatedAt,
		instance.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to archive workflow instance: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM workflow_instances WHERE workflow_id = $1`, instance.WorkflowID); err != nil {
		return fmt.Errorf("failed to remove archived workflow: %w", err)
	}
	return tx.Commit(ctx)
}

func marshalInstance(instance *Instance) (contextJSON, stepsJSON, processedJSON []byte, err error) {
	contextJSON, err = json.Marshal(instance.Context)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	stepsJSON, err = json.Marshal(instance.Steps)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal steps: %w", err)
	}
	processedJSON, err = json.Marshal(instance.ProcessedEvents)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal processed events: %w", err)
	}
	return contextJSON, stepsJSON, processedJSON, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanInstance(row pgx.Row) (*Instance, error) {
	var instance Instance
	var statusStr string
	var contextJSON, stepsJSON, processedJSON []byte
	var errorMsg *string

	err := row.Scan(
		&instance.WorkflowID,
		&instance.WorkflowType,
		&statusStr,
		&contextJSON,
		&stepsJSON,
		&instance.CurrentStep,
		&processedJSON,
		&errorMsg,
		&instance.Deadline,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&instance.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	instance.Status = Status(statusStr)
	if errorMsg != nil {
		instance.Error = *errorMsg
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &instance.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	if instance.Context == nil {
		instance.Context = make(map[string]any)
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &instance.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}
	if len(processedJSON) > 0 {
		if err := json.Unmarshal(processedJSON, &instance.ProcessedEvents); err != nil {
			return nil, fmt.Errorf("failed to unmarshal processed events: %w", err)
		}
	}
	if instance.ProcessedEvents == nil {
		instance.ProcessedEvents = make(map[string]bool)
	}
	return &instance, nil
}
