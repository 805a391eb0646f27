package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

const queueColumns = `id, name, capacity, enabled, created_at`

// CreateQueue inserts a new queue and returns its id.
func (s *Store) CreateQueue(ctx context.Context, queue *domain.Queue) (int64, error) {
	query := `
		INSERT INTO queues (name, capacity, enabled, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query, queue.Name, queue.Capacity, queue.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create queue: %w", err)
	}

	return id, nil
}

// GetQueue retrieves a queue by id.
func (s *Store) GetQueue(ctx context.Context, queueID int64) (*domain.Queue, error) {
	var queue domain.Queue
	query := `SELECT ` + queueColumns + ` FROM queues WHERE id = $1`

	err := s.db.GetContext(ctx, &queue, query, queueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrQueueNotFound
		}
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	return &queue, nil
}

// GetQueueByName retrieves a queue by name.
func (s *Store) GetQueueByName(ctx context.Context, name string) (*domain.Queue, error) {
	var queue domain.Queue
	query := `SELECT ` + queueColumns + ` FROM queues WHERE name = $1`

	err := s.db.GetContext(ctx, &queue, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrQueueNotFound
		}
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	return &queue, nil
}

// ListQueues returns every queue ordered by name.
func (s *Store) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	var queues []domain.Queue
	query := `SELECT ` + queueColumns + ` FROM queues ORDER BY name`

	if err := s.db.SelectContext(ctx, &queues, query); err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}

	return queues, nil
}

// ListEnabledQueues returns the queues the pop phase should drain.
func (s *Store) ListEnabledQueues(ctx context.Context) ([]domain.Queue, error) {
	var queues []domain.Queue
	query := `SELECT ` + queueColumns + ` FROM queues WHERE enabled = TRUE ORDER BY name`

	if err := s.db.SelectContext(ctx, &queues, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled queues: %w", err)
	}

	return queues, nil
}

// UpdateQueue changes a queue's capacity and enabled flag.
func (s *Store) UpdateQueue(ctx context.Context, queue *domain.Queue) error {
	query := `UPDATE queues SET capacity = $1, enabled = $2 WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, queue.Capacity, queue.Enabled, queue.ID)
	if err != nil {
		return fmt.Errorf("failed to update queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrQueueNotFound
	}

	return nil
}

// DeleteQueue removes a queue. Deletion is rejected while pending
// entries still reference it.
func (s *Store) DeleteQueue(ctx context.Context, queueID int64) error {
	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}

	pending, err := s.CountPendingByQueue(ctx, queue.Name)
	if err != nil {
		return err
	}
	if pending > 0 {
		return domain.ErrQueueInUse
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE id = $1`, queueID)
	if err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrQueueNotFound
	}

	return nil
}
