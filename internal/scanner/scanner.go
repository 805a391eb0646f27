package scanner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/worker"
)

// Store is the slice of persistence the scanner needs. The concrete
// implementation is storage.Store; tests inject fakes.
type Store interface {
	ListQueuedEnabledTasks(ctx context.Context) ([]domain.TaskDefinition, error)
	ClaimNextFireTime(ctx context.Context, taskID int64, next time.Time) error
	CreateQueuedJob(ctx context.Context, job *domain.Job, entry *domain.PendingEntry) error

	ListEnabledQueues(ctx context.Context) ([]domain.Queue, error)
	CountRunning(ctx context.Context, queueName string) (int, error)
	ClaimPendingBatch(ctx context.Context, queueName, batchNo string, limit int) (int, error)
	ListPendingByBatch(ctx context.Context, batchNo string) ([]domain.PendingEntry, error)
	ReleasePendingClaim(ctx context.Context, jobID string) error
	DeletePending(ctx context.Context, jobID string) error
	MarkJobRunning(ctx context.Context, jobID string, startTime time.Time) error
	InsertDequeueAudit(ctx context.Context, audit *domain.DequeueAudit) error
}

// Executor runs a claimed job through the execution envelope.
type Executor interface {
	ExecuteJob(ctx context.Context, jobID string)
}

// Pool accepts dispatched work. Satisfied by worker.Pool.
type Pool interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Scanner drives the queue admission loop: the push phase converts due,
// queue-bound cron fires into pending entries, the pop phase drains
// pending entries into running jobs up to each queue's free capacity.
// The design assumes a single scanner instance; the conditional-update
// claims are not safe against a second concurrent authority.
type Scanner struct {
	logger   *slog.Logger
	store    Store
	executor Executor
	pool     Pool
	events   events.Publisher
	parser   cron.Parser
	interval time.Duration

	// now is a test seam
	now func() time.Time
}

// New creates a scanner ticking at the given interval.
func New(store Store, executor Executor, pool Pool, publisher events.Publisher, interval time.Duration, logger *slog.Logger) *Scanner {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Scanner{
		logger:   logger,
		store:    store,
		executor: executor,
		pool:     pool,
		events:   publisher,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		now:      time.Now,
	}
}

// Run ticks until the context is canceled. A failed pass is logged and
// the next tick proceeds normally.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Queue scanner started",
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Queue scanner stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one push and one pop pass.
func (s *Scanner) Tick(ctx context.Context) {
	s.PushPhase(ctx)
	s.PopPhase(ctx)
}

// PushPhase enqueues a pending entry for every queue-bound task
// definition whose fire has come due. Errors on one definition never
// abort the rest of the pass.
func (s *Scanner) PushPhase(ctx context.Context) {
	tasks, err := s.store.ListQueuedEnabledTasks(ctx)
	if err != nil {
		s.logger.Error("Push phase aborted - failed to list queued tasks",
			slog.Any("error", err),
		)
		return
	}

	now := s.now()
	for i := range tasks {
		if err := s.pushTask(ctx, &tasks[i], now); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				// Another pass already owns this fire.
				continue
			}
			s.logger.Error("Failed to push task fire",
				slog.Int64("task_id", tasks[i].ID),
				slog.String("task_name", tasks[i].Name),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Scanner) pushTask(ctx context.Context, task *domain.TaskDefinition, now time.Time) error {
	schedule, err := s.parser.Parse(task.CronExpr)
	if err != nil {
		return err
	}

	// The fire is due once "now" has passed the stored next fire time
	// (a null token counts as due). The freshly computed next time must
	// still be ahead of "now", which bounds admission to once per tick.
	if task.NextFireTime != nil && now.Before(*task.NextFireTime) {
		return nil
	}

	next := schedule.Next(now)
	if !next.After(now) {
		return nil
	}

	if err := s.store.ClaimNextFireTime(ctx, task.ID, next); err != nil {
		return err
	}

	jobID := uuid.New().String()
	queueName := *task.QueueName

	job := &domain.Job{
		JobID:       jobID,
		TaskID:      &task.ID,
		HandlerRef:  task.HandlerRef,
		Params:      task.FireParams,
		QueueName:   &queueName,
		Priority:    task.Priority,
		TriggerType: domain.TriggerQueueCron,
		Status:      domain.JobStatusPending,
	}
	entry := &domain.PendingEntry{
		JobID:       jobID,
		TaskID:      &task.ID,
		HandlerRef:  task.HandlerRef,
		Params:      task.FireParams,
		TriggerType: domain.TriggerQueueCron,
		Priority:    task.Priority,
		QueueName:   queueName,
		PushTime:    now,
	}

	if err := s.store.CreateQueuedJob(ctx, job, entry); err != nil {
		return err
	}

	s.logger.Info("Pushed task fire onto queue",
		slog.Int64("task_id", task.ID),
		slog.String("task_name", task.Name),
		slog.String("job_id", jobID),
		slog.String("queue", queueName),
		slog.Time("next_fire_time", next),
	)

	return nil
}

// PopPhase drains pending entries into running jobs, queue by queue,
// respecting each queue's free capacity. Errors on one queue or entry
// never abort the rest of the pass.
func (s *Scanner) PopPhase(ctx context.Context) {
	queues, err := s.store.ListEnabledQueues(ctx)
	if err != nil {
		s.logger.Error("Pop phase aborted - failed to list queues",
			slog.Any("error", err),
		)
		return
	}

	for i := range queues {
		if err := s.popQueue(ctx, &queues[i]); err != nil {
			s.logger.Error("Failed to drain queue",
				slog.String("queue", queues[i].Name),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Scanner) popQueue(ctx context.Context, queue *domain.Queue) error {
	running, err := s.store.CountRunning(ctx, queue.Name)
	if err != nil {
		return err
	}

	free := queue.Capacity - running
	if free <= 0 {
		return nil
	}

	// Claim by tagging, then re-read by tag: the tag defends against a
	// concurrent claim narrowing the selection between the two steps.
	batchNo := uuid.New().String()
	claimed, err := s.store.ClaimPendingBatch(ctx, queue.Name, batchNo, free)
	if err != nil {
		return err
	}
	if claimed == 0 {
		return nil
	}

	entries, err := s.store.ListPendingByBatch(ctx, batchNo)
	if err != nil {
		return err
	}

	s.logger.Info("Claimed pending batch",
		slog.String("queue", queue.Name),
		slog.String("batch_no", batchNo),
		slog.Int("claimed", len(entries)),
		slog.Int("free", free),
	)

	for i := range entries {
		if err := s.dispatchEntry(ctx, &entries[i]); err != nil {
			s.logger.Error("Failed to dispatch pending entry",
				slog.String("job_id", entries[i].JobID),
				slog.String("queue", queue.Name),
				slog.Any("error", err),
			)
			// Untag the entry so the next pop phase can claim it;
			// otherwise it would carry a dead batch number forever.
			if relErr := s.store.ReleasePendingClaim(ctx, entries[i].JobID); relErr != nil {
				s.logger.Error("Failed to release pending claim",
					slog.String("job_id", entries[i].JobID),
					slog.Any("error", relErr),
				)
			}
		}
	}

	return nil
}

func (s *Scanner) dispatchEntry(ctx context.Context, entry *domain.PendingEntry) error {
	popTime := s.now()

	audit := &domain.DequeueAudit{
		JobID:       entry.JobID,
		TaskID:      entry.TaskID,
		HandlerRef:  entry.HandlerRef,
		Params:      entry.Params,
		TriggerType: entry.TriggerType,
		Priority:    entry.Priority,
		QueueName:   entry.QueueName,
		PushTime:    entry.PushTime,
		PopBatchNo:  valueOrEmpty(entry.PopBatchNo),
		PopTime:     popTime,
	}
	if err := s.store.InsertDequeueAudit(ctx, audit); err != nil {
		return err
	}

	if err := s.store.MarkJobRunning(ctx, entry.JobID, popTime); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The job left PENDING underneath us (stopped or deleted);
			// the entry is residual.
			s.logger.Warn("Dropping pending entry for non-pending job",
				slog.String("job_id", entry.JobID),
			)
			return s.store.DeletePending(ctx, entry.JobID)
		}
		return err
	}

	if err := s.store.DeletePending(ctx, entry.JobID); err != nil {
		return err
	}

	queueName := entry.QueueName
	s.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:       entry.JobID,
		TaskID:      entry.TaskID,
		HandlerRef:  entry.HandlerRef,
		QueueName:   &queueName,
		TriggerType: entry.TriggerType,
		Status:      domain.JobStatusRunning,
		At:          popTime,
	})

	jobID := entry.JobID
	return s.pool.Submit(ctx, worker.Task{
		JobID: jobID,
		Run: func(taskCtx context.Context) {
			s.executor.ExecuteJob(taskCtx, jobID)
		},
	})
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
