package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scheduler-be/internal/handler"
	"github.com/cuongbtq/scheduler-be/internal/joblog"
)

// Builtin handler references.
const (
	RefJobsCleanup = "builtin.jobs_cleanup"
	RefEcho        = "builtin.echo"
	RefHeartbeat   = "builtin.heartbeat"
)

// JobPurger is the storage slice the cleanup handler needs.
type JobPurger interface {
	PurgeTerminalJobs(ctx context.Context, before time.Time) (int64, error)
}

// RegisterBuiltins installs the handlers this service ships with.
func RegisterBuiltins(registry *handler.Registry, purger JobPurger, logger *slog.Logger) error {
	if err := registry.RegisterJob(RefJobsCleanup, NewCleanupJob(purger, logger)); err != nil {
		return err
	}
	if err := registry.RegisterJob(RefEcho, handler.SyncJobFunc(echo)); err != nil {
		return err
	}
	if err := registry.RegisterCronTask(RefHeartbeat, handler.ParamCronTaskFunc(heartbeat)); err != nil {
		return err
	}
	return nil
}

// CleanupJob purges terminal job rows older than a retention window.
// Params: {"retention_days": <int, default 30>}.
type CleanupJob struct {
	purger JobPurger
	logger *slog.Logger
}

func NewCleanupJob(purger JobPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{purger: purger, logger: logger}
}

func (j *CleanupJob) Run(ctx context.Context, params map[string]any) error {
	retentionDays := 30
	if v, ok := params["retention_days"]; ok {
		f, ok := v.(float64)
		if !ok || f < 1 {
			return fmt.Errorf("invalid retention_days value %v", v)
		}
		retentionDays = int(f)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	joblog.FromContext(ctx).Printf("purging terminal jobs updated before %s", cutoff.Format(time.RFC3339))

	purged, err := j.purger.PurgeTerminalJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge terminal jobs: %w", err)
	}

	joblog.FromContext(ctx).Printf("purged %d jobs", purged)
	j.logger.Info("Terminal jobs purged",
		slog.Int64("purged", purged),
		slog.Int("retention_days", retentionDays),
	)

	return nil
}

// echo writes its parameters to the job log. Useful for exercising the
// dispatch path end to end.
func echo(ctx context.Context, params map[string]any) error {
	log := joblog.FromContext(ctx)
	if len(params) == 0 {
		log.Printf("echo: no params")
		return nil
	}
	for key, value := range params {
		log.Printf("echo: %s=%v", key, value)
	}
	return nil
}

// heartbeat logs one line per fire.
func heartbeat(ctx context.Context, taskID int64, params map[string]any) (string, error) {
	joblog.FromContext(ctx).Printf("heartbeat from task %d", taskID)
	return "", nil
}
