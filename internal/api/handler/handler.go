package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/scheduler-be/internal/api/dto"
	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/storage"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Store   *storage.Store
	Control *events.ControlPublisher
}

// respondError maps domain sentinel errors to HTTP statuses.
func respondError(c *gin.Context, logger *slog.Logger, err error, action string) {
	status := http.StatusInternalServerError
	message := "Failed to " + action

	switch {
	case isNotFound(err):
		status = http.StatusNotFound
		message = err.Error()
	case err == domain.ErrJobNotRunning || err == domain.ErrJobNotRetryable || err == domain.ErrInvalidTransition:
		status = http.StatusConflict
		message = err.Error()
	case err == domain.ErrQueueInUse:
		status = http.StatusConflict
		message = err.Error()
	case err == domain.ErrInvalidParams:
		status = http.StatusBadRequest
		message = err.Error()
	default:
		logger.Error("Request failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(status, gin.H{"error": message})
}

func isNotFound(err error) bool {
	return err == domain.ErrJobNotFound ||
		err == domain.ErrTaskNotFound ||
		err == domain.ErrQueueNotFound
}

func jobToDTO(job *domain.Job) dto.JobDTO {
	return dto.JobDTO{
		JobID:        job.JobID,
		TaskID:       job.TaskID,
		HandlerRef:   job.HandlerRef,
		Params:       job.Params,
		QueueName:    job.QueueName,
		Priority:     job.Priority,
		TriggerType:  job.TriggerType,
		Status:       job.Status,
		StartTime:    dto.FormatTime(job.StartTime),
		EndTime:      dto.FormatTime(job.EndTime),
		DurationMS:   job.DurationMS,
		LogPath:      job.LogPath,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func taskToDTO(task *domain.TaskDefinition) dto.TaskDTO {
	return dto.TaskDTO{
		ID:           task.ID,
		Name:         task.Name,
		Label:        task.Label,
		CronExpr:     task.CronExpr,
		Enabled:      task.Enabled,
		HandlerRef:   task.HandlerRef,
		FireParams:   task.FireParams,
		QueueName:    task.QueueName,
		Priority:     task.Priority,
		NextFireTime: dto.FormatTime(task.NextFireTime),
		CreatedAt:    task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    task.UpdatedAt.Format(time.RFC3339),
	}
}
