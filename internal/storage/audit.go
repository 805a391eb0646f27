package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

// InsertDequeueAudit records one pending entry leaving the queue. The
// audit table is append-only; rows are copies of the entry's fields at
// claim time plus the pop timestamp.
func (s *Store) InsertDequeueAudit(ctx context.Context, audit *domain.DequeueAudit) error {
	query := `
		INSERT INTO dequeue_audit (
			job_id, task_id, handler_ref, params, trigger_type,
			priority, queue_name, push_time, pop_batch_no, pop_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		audit.JobID,
		audit.TaskID,
		audit.HandlerRef,
		audit.Params,
		audit.TriggerType,
		audit.Priority,
		audit.QueueName,
		audit.PushTime,
		audit.PopBatchNo,
		audit.PopTime,
	)

	if err != nil {
		return fmt.Errorf("failed to insert dequeue audit: %w", err)
	}

	return nil
}

// ListDequeueAudits returns audit rows for one queue, newest first.
func (s *Store) ListDequeueAudits(ctx context.Context, queueName string, limit int) ([]domain.DequeueAudit, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, job_id, task_id, handler_ref, params, trigger_type,
		       priority, queue_name, push_time, pop_batch_no, pop_time
		FROM dequeue_audit
		WHERE queue_name = $1
		ORDER BY pop_time DESC
		LIMIT $2
	`

	var audits []domain.DequeueAudit
	if err := s.db.SelectContext(ctx, &audits, query, queueName, limit); err != nil {
		return nil, fmt.Errorf("failed to list dequeue audits: %w", err)
	}

	return audits, nil
}
