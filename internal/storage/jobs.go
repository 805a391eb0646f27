package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

const jobColumns = `
	job_id, task_id, handler_ref, params, queue_name, priority,
	trigger_type, status, start_time, end_time, duration_ms, log_path,
	error_message, created_at, updated_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, task_id, handler_ref, params, queue_name,
			priority, trigger_type, status, start_time, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, NOW(), NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.TaskID,
		job.HandlerRef,
		job.Params,
		job.QueueName,
		job.Priority,
		job.TriggerType,
		job.Status,
		job.StartTime,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by its ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows and pages job queries.
type JobFilter struct {
	Status      string
	HandlerRef  string
	QueueName   string
	TriggerType string
	From        *time.Time
	To          *time.Time
	Search      string // matches handler_ref or error_message
	Page        int
	PageSize    int
}

// ListJobs returns one page of jobs matching the filter plus the total
// match count.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.HandlerRef != "" {
		where += fmt.Sprintf(" AND handler_ref = $%d", argIdx)
		args = append(args, filter.HandlerRef)
		argIdx++
	}

	if filter.QueueName != "" {
		where += fmt.Sprintf(" AND queue_name = $%d", argIdx)
		args = append(args, filter.QueueName)
		argIdx++
	}

	if filter.TriggerType != "" {
		where += fmt.Sprintf(" AND trigger_type = $%d", argIdx)
		args = append(args, filter.TriggerType)
		argIdx++
	}

	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.From)
		argIdx++
	}

	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *filter.To)
		argIdx++
	}

	if filter.Search != "" {
		where += fmt.Sprintf(" AND (handler_ref ILIKE $%d OR error_message ILIKE $%d)", argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM jobs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}

	query := `SELECT` + jobColumns + ` FROM jobs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, job_id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, (page-1)*pageSize)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, total, nil
}

// MarkJobRunning flips a PENDING job to RUNNING and stamps its start
// time. The update is conditional on the current status, so a
// concurrent claim loses cleanly.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string, startTime time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1, start_time = $2, updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusRunning, startTime, jobID, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrInvalidTransition
	}

	return nil
}

// MarkJobSuccess records a successful run. Conditional on RUNNING so an
// operator stop that raced the handler wins.
func (s *Store) MarkJobSuccess(ctx context.Context, jobID string, endTime time.Time, durationMS int64, logPath string) error {
	query := `
		UPDATE jobs
		SET status = $1, end_time = $2, duration_ms = $3,
		    log_path = NULLIF($4, ''), error_message = NULL, updated_at = NOW()
		WHERE job_id = $5 AND status = $6
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusSuccess, endTime, durationMS, logPath, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job success: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotRunning
	}

	return nil
}

// MarkJobFailed records a failed run with the captured error text.
func (s *Store) MarkJobFailed(ctx context.Context, jobID string, endTime time.Time, durationMS int64, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $1, end_time = $2, duration_ms = $3,
		    error_message = $4, updated_at = NOW()
		WHERE job_id = $5 AND status = $6
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, endTime, durationMS, errorMessage, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotRunning
	}

	return nil
}

// StopJob moves a RUNNING job to STOPPED and removes any residual
// pending entry.
func (s *Store) StopJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusRunning {
		return nil, domain.ErrJobNotRunning
	}

	end := time.Now()
	var durationMS int64
	if job.StartTime != nil {
		durationMS = end.Sub(*job.StartTime).Milliseconds()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, end_time = $2, duration_ms = $3, updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`, domain.JobStatusStopped, end, durationMS, jobID, domain.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to stop job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, domain.ErrJobNotRunning
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_entries WHERE job_id = $1`, jobID); err != nil {
		return nil, fmt.Errorf("failed to delete pending entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stop: %w", err)
	}

	s.logger.Info("Job stopped",
		slog.String("job_id", jobID),
		slog.Int64("duration_ms", durationMS),
	)

	job.Status = domain.JobStatusStopped
	job.EndTime = &end
	job.DurationMS = &durationMS
	return job, nil
}

// RetryJob resets a FAILED or STOPPED job back to PENDING, clearing
// timestamps, duration, and error. For queue-bound jobs a fresh pending
// entry is inserted so the pop phase picks the job up again.
func (s *Store) RetryJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusStopped {
		return nil, domain.ErrJobNotRetryable
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, start_time = NULL, end_time = NULL,
		    duration_ms = NULL, error_message = NULL, updated_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4)
	`, domain.JobStatusPending, jobID, domain.JobStatusFailed, domain.JobStatusStopped)
	if err != nil {
		return nil, fmt.Errorf("failed to retry job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, domain.ErrJobNotRetryable
	}

	if job.QueueName != nil && *job.QueueName != "" {
		// Reinsert with the priority the job was originally queued with.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_entries (
				job_id, task_id, handler_ref, params, trigger_type,
				priority, queue_name, push_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			ON CONFLICT (job_id) DO NOTHING
		`, job.JobID, job.TaskID, job.HandlerRef, job.Params, job.TriggerType, job.Priority, *job.QueueName)
		if err != nil {
			return nil, fmt.Errorf("failed to reinsert pending entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit retry: %w", err)
	}

	s.logger.Info("Job reset for retry",
		slog.String("job_id", jobID),
		slog.String("previous_status", job.Status),
	)

	return s.GetJob(ctx, jobID)
}

// CountRunning counts RUNNING jobs attributed to one queue.
func (s *Store) CountRunning(ctx context.Context, queueName string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM jobs WHERE status = $1 AND queue_name = $2`

	if err := s.db.GetContext(ctx, &count, query, domain.JobStatusRunning, queueName); err != nil {
		return 0, fmt.Errorf("failed to count running jobs: %w", err)
	}

	return count, nil
}

// PurgeTerminalJobs deletes terminal jobs older than the cutoff and
// returns the number removed. Residual pending entries go with them.
func (s *Store) PurgeTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pending_entries
		WHERE job_id IN (
			SELECT job_id FROM jobs
			WHERE status IN ($1, $2, $3) AND updated_at < $4
		)
	`, domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusStopped, before); err != nil {
		return 0, fmt.Errorf("failed to purge pending entries: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2, $3) AND updated_at < $4
	`, domain.JobStatusSuccess, domain.JobStatusFailed, domain.JobStatusStopped, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return purged, nil
}

// DeleteJob removes a terminal job and any residual pending entry.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !domain.IsTerminal(job.Status) {
		return domain.ErrInvalidTransition
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_entries WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete pending entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	return nil
}
