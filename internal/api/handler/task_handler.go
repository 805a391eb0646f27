package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/scheduler-be/internal/api/dto"
	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/storage"
)

// TaskHandler handles task-definition HTTP requests. Every mutation is
// persisted first, then announced to the scheduler service over the
// control channel so the live trigger table follows the store.
type TaskHandler struct {
	logger  *slog.Logger
	store   *storage.Store
	control *events.ControlPublisher
	parser  cron.Parser
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		control: deps.Control,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// CreateTask handles POST /api/v1/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	task, ok := h.buildTask(c, req.Name, req.Label, req.CronExpr, req.Enabled, req.HandlerRef, req.FireParams, req.QueueName, req.Priority)
	if !ok {
		return
	}

	id, err := h.store.CreateTask(c.Request.Context(), task)
	if err != nil {
		respondError(c, h.logger, err, "create task")
		return
	}
	task.ID = id

	h.announce(c, events.ControlTaskUpsert, id)

	h.logger.Info("Task created",
		slog.Int64("task_id", id),
		slog.String("task_name", task.Name),
		slog.String("cron_expr", task.CronExpr),
	)

	c.JSON(http.StatusCreated, taskToDTO(task))
}

// GetTask handles GET /api/v1/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err, "get task")
		return
	}

	c.JSON(http.StatusOK, taskToDTO(task))
}

// ListTasks handles GET /api/v1/tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "list tasks")
		return
	}

	response := make([]dto.TaskDTO, len(tasks))
	for i := range tasks {
		response[i] = taskToDTO(&tasks[i])
	}

	c.JSON(http.StatusOK, gin.H{"tasks": response})
}

// UpdateTask handles PUT /api/v1/tasks/:task_id
// An update clears the stored next-fire claim, so the push phase
// recomputes against the new expression.
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	existing, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err, "update task")
		return
	}

	task, ok := h.buildTask(c, existing.Name, req.Label, req.CronExpr, req.Enabled, req.HandlerRef, req.FireParams, req.QueueName, req.Priority)
	if !ok {
		return
	}
	task.ID = taskID

	if err := h.store.UpdateTask(c.Request.Context(), task); err != nil {
		respondError(c, h.logger, err, "update task")
		return
	}

	h.announce(c, events.ControlTaskUpsert, taskID)

	h.logger.Info("Task updated",
		slog.Int64("task_id", taskID),
		slog.String("cron_expr", task.CronExpr),
		slog.Bool("enabled", task.Enabled),
	)

	updated, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err, "update task")
		return
	}

	c.JSON(http.StatusOK, taskToDTO(updated))
}

// DeleteTask handles DELETE /api/v1/tasks/:task_id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	if err := h.store.DeleteTask(c.Request.Context(), taskID); err != nil {
		respondError(c, h.logger, err, "delete task")
		return
	}

	h.announce(c, events.ControlTaskDelete, taskID)

	c.Status(http.StatusNoContent)
}

// TriggerTask handles POST /api/v1/tasks/:task_id/trigger
// Fires the task immediately in the scheduler service, bypassing its
// schedule.
func (h *TaskHandler) TriggerTask(c *gin.Context) {
	taskID, ok := h.taskIDParam(c)
	if !ok {
		return
	}

	if _, err := h.store.GetTask(c.Request.Context(), taskID); err != nil {
		respondError(c, h.logger, err, "trigger task")
		return
	}

	msg := events.ControlMessage{Type: events.ControlTriggerNow, TaskID: taskID}
	if err := h.control.Send(c.Request.Context(), msg); err != nil {
		respondError(c, h.logger, err, "trigger task")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  "triggered",
	})
}

func (h *TaskHandler) taskIDParam(c *gin.Context) (int64, bool) {
	taskID, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be an integer",
		})
		return 0, false
	}
	return taskID, true
}

// buildTask validates the request fields and assembles a definition.
// Responds with an error and returns false when validation fails.
func (h *TaskHandler) buildTask(c *gin.Context, name, label, cronExpr string, enabled *bool, handlerRef string, fireParams map[string]any, queueName string, priority int) (*domain.TaskDefinition, bool) {
	if _, err := h.parser.Parse(cronExpr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cron expression",
		})
		return nil, false
	}

	params, err := domain.EncodeParams(fireParams)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid fire_params",
		})
		return nil, false
	}

	task := &domain.TaskDefinition{
		Name:       name,
		Label:      label,
		CronExpr:   cronExpr,
		Enabled:    true,
		HandlerRef: handlerRef,
		FireParams: params,
		Priority:   priority,
	}
	if enabled != nil {
		task.Enabled = *enabled
	}

	if queueName != "" {
		queue, err := h.store.GetQueueByName(c.Request.Context(), queueName)
		if err != nil {
			respondError(c, h.logger, err, "resolve queue")
			return nil, false
		}
		task.QueueName = &queue.Name
	}

	return task, true
}

// announce sends a control message for a task mutation. The store is
// the source of truth, so a publish failure is logged, not rolled back;
// the scheduler rebuilds its trigger table on restart.
func (h *TaskHandler) announce(c *gin.Context, msgType string, taskID int64) {
	msg := events.ControlMessage{Type: msgType, TaskID: taskID}
	if err := h.control.Send(c.Request.Context(), msg); err != nil {
		h.logger.Error("Failed to announce task change",
			slog.String("type", msgType),
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}
