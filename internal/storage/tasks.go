package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

const taskColumns = `
	id, name, label, cron_expr, enabled, handler_ref, fire_params,
	queue_name, priority, next_fire_time, created_at, updated_at`

// CreateTask inserts a new task definition and returns its id.
func (s *Store) CreateTask(ctx context.Context, task *domain.TaskDefinition) (int64, error) {
	query := `
		INSERT INTO task_definitions (
			name, label, cron_expr, enabled, handler_ref,
			fire_params, queue_name, priority, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(
		ctx,
		query,
		task.Name,
		task.Label,
		task.CronExpr,
		task.Enabled,
		task.HandlerRef,
		task.FireParams,
		task.QueueName,
		task.Priority,
	).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to create task definition: %w", err)
	}

	return id, nil
}

// UpdateTask rewrites an existing task definition. The next fire time
// is reset so the push phase recomputes it from the new expression.
func (s *Store) UpdateTask(ctx context.Context, task *domain.TaskDefinition) error {
	query := `
		UPDATE task_definitions
		SET name = $1, label = $2, cron_expr = $3, enabled = $4,
		    handler_ref = $5, fire_params = $6, queue_name = $7,
		    priority = $8, next_fire_time = NULL, updated_at = NOW()
		WHERE id = $9
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		task.Name,
		task.Label,
		task.CronExpr,
		task.Enabled,
		task.HandlerRef,
		task.FireParams,
		task.QueueName,
		task.Priority,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrTaskNotFound
	}

	return nil
}

// DeleteTask removes a task definition.
func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_definitions WHERE id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrTaskNotFound
	}

	return nil
}

// GetTask retrieves one task definition.
func (s *Store) GetTask(ctx context.Context, taskID int64) (*domain.TaskDefinition, error) {
	var task domain.TaskDefinition
	query := `SELECT` + taskColumns + ` FROM task_definitions WHERE id = $1`

	err := s.db.GetContext(ctx, &task, query, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task definition: %w", err)
	}

	return &task, nil
}

// ListTasks returns every task definition ordered by id.
func (s *Store) ListTasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	var tasks []domain.TaskDefinition
	query := `SELECT` + taskColumns + ` FROM task_definitions ORDER BY id`

	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list task definitions: %w", err)
	}

	return tasks, nil
}

// ListDirectEnabledTasks returns enabled definitions without a target
// queue; these get live cron triggers.
func (s *Store) ListDirectEnabledTasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	var tasks []domain.TaskDefinition
	query := `SELECT` + taskColumns + `
		FROM task_definitions
		WHERE enabled = TRUE AND (queue_name IS NULL OR queue_name = '')
		ORDER BY id`

	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list direct tasks: %w", err)
	}

	return tasks, nil
}

// ListQueuedEnabledTasks returns enabled definitions bound to a queue;
// these fire through the scanner push phase.
func (s *Store) ListQueuedEnabledTasks(ctx context.Context) ([]domain.TaskDefinition, error) {
	var tasks []domain.TaskDefinition
	query := `SELECT` + taskColumns + `
		FROM task_definitions
		WHERE enabled = TRUE AND queue_name IS NOT NULL AND queue_name <> ''
		ORDER BY id`

	if err := s.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list queued tasks: %w", err)
	}

	return tasks, nil
}

// ClaimNextFireTime is the push-phase admission gate: a conditional
// update that succeeds only when the stored next fire time is null or
// differs from the newly computed one. Zero rows changed means another
// pass already owns this fire.
func (s *Store) ClaimNextFireTime(ctx context.Context, taskID int64, next time.Time) error {
	query := `
		UPDATE task_definitions
		SET next_fire_time = $1, updated_at = NOW()
		WHERE id = $2
		  AND (next_fire_time IS NULL OR next_fire_time <> $1)
	`

	result, err := s.db.ExecContext(ctx, query, next, taskID)
	if err != nil {
		return fmt.Errorf("failed to claim next fire time: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrClaimLost
	}

	return nil
}
