package storage

import (
	"context"
	"fmt"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

const pendingColumns = `
	job_id, task_id, handler_ref, params, trigger_type,
	priority, queue_name, push_time, pop_batch_no`

// CreateQueuedJob inserts a PENDING job together with its pending entry
// in one transaction. Used by the push phase and by queued manual
// submissions.
func (s *Store) CreateQueuedJob(ctx context.Context, job *domain.Job, entry *domain.PendingEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, task_id, handler_ref, params, queue_name,
			priority, trigger_type, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, job.JobID, job.TaskID, job.HandlerRef, job.Params, job.QueueName, job.Priority, job.TriggerType, job.Status)
	if err != nil {
		return fmt.Errorf("failed to create queued job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_entries (
			job_id, task_id, handler_ref, params, trigger_type,
			priority, queue_name, push_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.JobID, entry.TaskID, entry.HandlerRef, entry.Params, entry.TriggerType, entry.Priority, entry.QueueName, entry.PushTime)
	if err != nil {
		return fmt.Errorf("failed to create pending entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queued job: %w", err)
	}

	return nil
}

// ClaimPendingBatch tags up to limit unclaimed entries of one queue
// with a fresh batch number, ordered by priority descending then push
// time ascending. The single conditional UPDATE is the pop-phase claim;
// the caller re-reads by batch number afterwards.
func (s *Store) ClaimPendingBatch(ctx context.Context, queueName, batchNo string, limit int) (int, error) {
	query := `
		UPDATE pending_entries
		SET pop_batch_no = $1
		WHERE pop_batch_no IS NULL
		  AND job_id IN (
			SELECT job_id FROM pending_entries
			WHERE queue_name = $2 AND pop_batch_no IS NULL
			ORDER BY priority DESC, push_time ASC
			LIMIT $3
		)
	`

	result, err := s.db.ExecContext(ctx, query, batchNo, queueName, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending batch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// ListPendingByBatch re-reads the entries carrying one batch number in
// claim order.
func (s *Store) ListPendingByBatch(ctx context.Context, batchNo string) ([]domain.PendingEntry, error) {
	query := `SELECT` + pendingColumns + `
		FROM pending_entries
		WHERE pop_batch_no = $1
		ORDER BY priority DESC, push_time ASC`

	var entries []domain.PendingEntry
	if err := s.db.SelectContext(ctx, &entries, query, batchNo); err != nil {
		return nil, fmt.Errorf("failed to list batch entries: %w", err)
	}

	return entries, nil
}

// ReleasePendingClaim clears the batch tag from one entry so a later
// pop phase can claim it again. Called when dispatch fails after the
// claim.
func (s *Store) ReleasePendingClaim(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE pending_entries SET pop_batch_no = NULL WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to release pending claim: %w", err)
	}
	return nil
}

// DeletePending removes one pending entry by job id.
func (s *Store) DeletePending(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_entries WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete pending entry: %w", err)
	}
	return nil
}

// PendingFilter narrows pending entry queries.
type PendingFilter struct {
	QueueName   string
	HandlerRef  string
	TriggerType string
	Page        int
	PageSize    int
}

// ListPending returns one page of pending entries plus the total count.
func (s *Store) ListPending(ctx context.Context, filter PendingFilter) ([]domain.PendingEntry, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.QueueName != "" {
		where += fmt.Sprintf(" AND queue_name = $%d", argIdx)
		args = append(args, filter.QueueName)
		argIdx++
	}

	if filter.HandlerRef != "" {
		where += fmt.Sprintf(" AND handler_ref = $%d", argIdx)
		args = append(args, filter.HandlerRef)
		argIdx++
	}

	if filter.TriggerType != "" {
		where += fmt.Sprintf(" AND trigger_type = $%d", argIdx)
		args = append(args, filter.TriggerType)
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM pending_entries"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending entries: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT` + pendingColumns + ` FROM pending_entries` + where +
		fmt.Sprintf(" ORDER BY priority DESC, push_time ASC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var entries []domain.PendingEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list pending entries: %w", err)
	}

	return entries, total, nil
}

// CountPendingByQueue counts entries referencing one queue.
func (s *Store) CountPendingByQueue(ctx context.Context, queueName string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM pending_entries WHERE queue_name = $1`, queueName); err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}
