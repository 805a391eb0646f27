package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/joblog"
)

// JobStore is the slice of job persistence the envelope needs. The
// terminal updates are conditional on the job still being RUNNING, so a
// concurrent operator stop is never overwritten.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkJobSuccess(ctx context.Context, jobID string, endTime time.Time, durationMS int64, logPath string) error
	MarkJobFailed(ctx context.Context, jobID string, endTime time.Time, durationMS int64, errorMessage string) error
}

// Envelope wraps user handler logic with state transitions, timing,
// log-sink correlation, and error capture. Jobs reach the envelope
// already flipped to RUNNING by whoever claimed them.
type Envelope struct {
	registry *Registry
	jobs     JobStore
	recorder *joblog.Recorder
	events   events.Publisher
	logger   *slog.Logger
}

// NewEnvelope creates an execution envelope.
func NewEnvelope(registry *Registry, jobs JobStore, recorder *joblog.Recorder, publisher events.Publisher, logger *slog.Logger) *Envelope {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Envelope{
		registry: registry,
		jobs:     jobs,
		recorder: recorder,
		events:   publisher,
		logger:   logger,
	}
}

// ExecuteJob runs a job through its SyncJob handler and records the
// terminal state.
func (e *Envelope) ExecuteJob(ctx context.Context, jobID string) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("Failed to load job for execution",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	start := e.startTime(job)

	params, err := job.DecodeParams()
	if err != nil {
		e.finishFailed(ctx, job, start, fmt.Sprintf("malformed params: %v", err))
		return
	}

	impl, ok := e.registry.ResolveJob(job.HandlerRef)
	if !ok {
		e.finishFailed(ctx, job, start, fmt.Sprintf("handler %q not registered", job.HandlerRef))
		return
	}

	jlog, logPath := e.openLog(job.JobID)
	if jlog != nil {
		ctx = joblog.NewContext(ctx, jlog)
		defer jlog.Close()
	}

	runErr := e.invokeJob(ctx, impl, params)
	if runErr != nil {
		if jlog != nil {
			jlog.Printf("job failed: %v", runErr)
		}
		e.finishFailed(ctx, job, start, runErr.Error())
		return
	}

	e.finishSuccess(ctx, job, start, logPath)
}

// ExecuteCronTask runs a direct cron fire through its ParamCronTask
// handler. The handler may re-validate the claim first and may return
// its own log path.
func (e *Envelope) ExecuteCronTask(ctx context.Context, jobID string, taskID int64) {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("Failed to load job for cron execution",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}

	start := e.startTime(job)

	params, err := job.DecodeParams()
	if err != nil {
		e.finishFailed(ctx, job, start, fmt.Sprintf("malformed params: %v", err))
		return
	}
	params["jobId"] = job.JobID

	impl, ok := e.registry.ResolveCronTask(job.HandlerRef)
	if !ok {
		e.finishFailed(ctx, job, start, fmt.Sprintf("cron task handler %q not registered", job.HandlerRef))
		return
	}

	jlog, logPath := e.openLog(job.JobID)
	if jlog != nil {
		ctx = joblog.NewContext(ctx, jlog)
		defer jlog.Close()
	}

	if checker, ok := impl.(ClaimChecker); ok && !checker.OwnsFire(ctx, taskID, params) {
		// Another pass owns this fire; record the run as a no-op.
		if jlog != nil {
			jlog.Printf("fire claim not owned, skipping run")
		}
		e.finishSuccess(ctx, job, start, logPath)
		return
	}

	taskLogPath, runErr := e.invokeCronTask(ctx, impl, taskID, params)
	if runErr != nil {
		if jlog != nil {
			jlog.Printf("task failed: %v", runErr)
		}
		e.finishFailed(ctx, job, start, runErr.Error())
		return
	}

	if taskLogPath != "" {
		logPath = taskLogPath
	}
	e.finishSuccess(ctx, job, start, logPath)
}

// invokeJob runs the handler, converting a panic into an error carrying
// the stack.
func (e *Envelope) invokeJob(ctx context.Context, impl SyncJob, params map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return impl.Run(ctx, params)
}

func (e *Envelope) invokeCronTask(ctx context.Context, impl ParamCronTask, taskID int64, params map[string]any) (logPath string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return impl.Run(ctx, taskID, params)
}

func (e *Envelope) openLog(jobID string) (*joblog.JobLog, string) {
	if e.recorder == nil {
		return nil, ""
	}
	jlog, err := e.recorder.Open(jobID)
	if err != nil {
		e.logger.Warn("Failed to open job log file",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil, ""
	}
	return jlog, jlog.Path()
}

func (e *Envelope) startTime(job *domain.Job) time.Time {
	if job.StartTime != nil {
		return *job.StartTime
	}
	return time.Now()
}

func (e *Envelope) finishSuccess(ctx context.Context, job *domain.Job, start time.Time, logPath string) {
	end := time.Now()
	duration := end.Sub(start).Milliseconds()

	// The terminal write must land even when the run context was
	// canceled mid-flight, or the job stays RUNNING forever.
	ctx = context.WithoutCancel(ctx)

	if err := e.jobs.MarkJobSuccess(ctx, job.JobID, end, duration, logPath); err != nil {
		e.logger.Warn("Failed to record job success",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	e.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.String("handler_ref", job.HandlerRef),
		slog.Int64("duration_ms", duration),
	)

	e.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:       job.JobID,
		TaskID:      job.TaskID,
		HandlerRef:  job.HandlerRef,
		QueueName:   job.QueueName,
		TriggerType: job.TriggerType,
		Status:      domain.JobStatusSuccess,
		At:          end,
	})
}

func (e *Envelope) finishFailed(ctx context.Context, job *domain.Job, start time.Time, errorMessage string) {
	end := time.Now()
	duration := end.Sub(start).Milliseconds()

	ctx = context.WithoutCancel(ctx)

	if err := e.jobs.MarkJobFailed(ctx, job.JobID, end, duration, errorMessage); err != nil {
		e.logger.Warn("Failed to record job failure",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	e.logger.Error("Job failed",
		slog.String("job_id", job.JobID),
		slog.String("handler_ref", job.HandlerRef),
		slog.Int64("duration_ms", duration),
		slog.String("error", errorMessage),
	)

	e.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:       job.JobID,
		TaskID:      job.TaskID,
		HandlerRef:  job.HandlerRef,
		QueueName:   job.QueueName,
		TriggerType: job.TriggerType,
		Status:      domain.JobStatusFailed,
		Error:       errorMessage,
		At:          end,
	})
}
