package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
)

// Store is the slice of persistence the dynamic scheduler needs.
type Store interface {
	ListDirectEnabledTasks(ctx context.Context) ([]domain.TaskDefinition, error)
	GetTask(ctx context.Context, taskID int64) (*domain.TaskDefinition, error)
	CreateJob(ctx context.Context, job *domain.Job) error
}

// Executor runs a direct cron fire through the execution envelope.
type Executor interface {
	ExecuteCronTask(ctx context.Context, jobID string, taskID int64)
}

// Scheduler keeps one live cron trigger per enabled, non-queued task
// definition. The trigger-handle map is process-local cache only; it is
// rebuilt from the task definition store on restart.
type Scheduler struct {
	logger   *slog.Logger
	store    Store
	executor Executor
	events   events.Publisher

	parser cron.Parser
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID

	// baseCtx carries cancellation into trigger callbacks
	baseCtx context.Context
}

// New creates a scheduler running triggers in the given location.
func New(store Store, executor Executor, publisher events.Publisher, loc *time.Location, logger *slog.Logger) *Scheduler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		logger:   logger,
		store:    store,
		executor: executor,
		events:   publisher,
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		entries:  make(map[int64]cron.EntryID),
		baseCtx:  context.Background(),
	}
}

// Start loads every enabled, non-queued task definition, registers a
// live trigger for each, and starts the shared cron timer.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	tasks, err := s.store.ListDirectEnabledTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load task definitions: %w", err)
	}

	for i := range tasks {
		if err := s.Register(&tasks[i]); err != nil {
			s.logger.Error("Failed to register cron trigger",
				slog.Int64("task_id", tasks[i].ID),
				slog.String("task_name", tasks[i].Name),
				slog.Any("error", err),
			)
		}
	}

	s.cron.Start()

	s.logger.Info("Dynamic scheduler started",
		slog.Int("triggers", len(tasks)),
	)

	return nil
}

// Stop cancels the shared timer and waits for in-flight fires.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Dynamic scheduler stopped")
}

// Register installs (or replaces) the live trigger for a task
// definition.
func (s *Scheduler) Register(task *domain.TaskDefinition) error {
	if _, err := s.parser.Parse(task.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", task.CronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[task.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, task.ID)
	}

	taskID := task.ID
	entryID, err := s.cron.AddFunc(task.CronExpr, func() {
		s.fire(taskID, domain.TriggerCron)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron trigger: %w", err)
	}

	s.entries[task.ID] = entryID

	s.logger.Info("Registered cron trigger",
		slog.Int64("task_id", task.ID),
		slog.String("task_name", task.Name),
		slog.String("cron_expr", task.CronExpr),
	)

	return nil
}

// Unregister cancels the live trigger for a task id. Idempotent, and
// safe while a fire is in flight: the fire completes, only future fires
// are prevented.
func (s *Scheduler) Unregister(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[taskID]
	if !ok {
		return
	}

	s.cron.Remove(entryID)
	delete(s.entries, taskID)

	s.logger.Info("Canceled cron trigger",
		slog.Int64("task_id", taskID),
	)
}

// Apply reconciles the live trigger with an edited task definition: a
// disabled or queue-bound definition loses its trigger, everything else
// gets a fresh one with the current expression.
func (s *Scheduler) Apply(task *domain.TaskDefinition) error {
	if !task.Enabled || task.Queued() {
		s.Unregister(task.ID)
		return nil
	}
	return s.Register(task)
}

// Registered reports whether a live trigger exists for the task id.
func (s *Scheduler) Registered(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[taskID]
	return ok
}

// TriggerNow fires a task immediately, bypassing its schedule. Uses the
// same dispatch path as a natural fire.
func (s *Scheduler) TriggerNow(ctx context.Context, taskID int64) (string, error) {
	return s.fireWith(ctx, taskID, domain.TriggerHand)
}

// fire handles a natural trigger callback. The callback goroutine
// blocks until the handler returns, so a slow handler delays this
// trigger's next fire.
func (s *Scheduler) fire(taskID int64, triggerType string) {
	if _, err := s.fireWith(s.baseCtx, taskID, triggerType); err != nil {
		s.logger.Error("Cron fire failed",
			slog.Int64("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

func (s *Scheduler) fireWith(ctx context.Context, taskID int64, triggerType string) (string, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	now := time.Now()
	jobID := uuid.New().String()

	job := &domain.Job{
		JobID:       jobID,
		TaskID:      &task.ID,
		HandlerRef:  task.HandlerRef,
		Params:      task.FireParams,
		TriggerType: triggerType,
		Status:      domain.JobStatusRunning,
		StartTime:   &now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", err
	}

	s.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:       jobID,
		TaskID:      &task.ID,
		HandlerRef:  task.HandlerRef,
		TriggerType: triggerType,
		Status:      domain.JobStatusRunning,
		At:          now,
	})

	s.logger.Info("Cron trigger fired",
		slog.Int64("task_id", task.ID),
		slog.String("task_name", task.Name),
		slog.String("job_id", jobID),
		slog.String("trigger_type", triggerType),
	)

	// Synchronous: the envelope records the terminal state before the
	// trigger goroutine is released.
	s.executor.ExecuteCronTask(ctx, jobID, task.ID)

	return jobID, nil
}
