package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/scheduler-be/internal/api/dto"
	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/storage"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	store   *storage.Store
	control *events.ControlPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		control: deps.Control,
	}
}

// SubmitJob handles POST /api/v1/jobs
// Submits a manual job. With queue_name set the job waits for the pop
// phase; without it a dispatch message sends it straight to the worker
// pool.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	params, err := domain.EncodeParams(req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid params",
		})
		return
	}

	job := &domain.Job{
		JobID:       uuid.New().String(),
		HandlerRef:  req.HandlerRef,
		Params:      params,
		Priority:    req.Priority,
		TriggerType: domain.TriggerHand,
		Status:      domain.JobStatusPending,
	}

	if req.QueueName != "" {
		queue, err := h.store.GetQueueByName(c.Request.Context(), req.QueueName)
		if err != nil {
			respondError(c, h.logger, err, "submit job")
			return
		}

		job.QueueName = &queue.Name
		entry := &domain.PendingEntry{
			JobID:       job.JobID,
			HandlerRef:  job.HandlerRef,
			Params:      job.Params,
			TriggerType: job.TriggerType,
			Priority:    job.Priority,
			QueueName:   queue.Name,
			PushTime:    time.Now(),
		}

		if err := h.store.CreateQueuedJob(c.Request.Context(), job, entry); err != nil {
			respondError(c, h.logger, err, "submit job")
			return
		}
	} else {
		if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
			respondError(c, h.logger, err, "submit job")
			return
		}

		msg := events.ControlMessage{Type: events.ControlDispatchJob, JobID: job.JobID}
		if err := h.control.Send(c.Request.Context(), msg); err != nil {
			respondError(c, h.logger, err, "dispatch job")
			return
		}
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("handler_ref", job.HandlerRef),
		slog.String("queue_name", req.QueueName),
	)

	c.JSON(http.StatusCreated, jobToDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "get job")
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	filter := storage.JobFilter{
		Status:      req.Status,
		HandlerRef:  req.HandlerRef,
		QueueName:   req.QueueName,
		TriggerType: req.TriggerType,
		Search:      req.Search,
		Page:        req.Page,
		PageSize:    req.PageSize,
	}

	if req.From != "" {
		from, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "from must be RFC3339",
			})
			return
		}
		filter.From = &from
	}
	if req.To != "" {
		to, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "to must be RFC3339",
			})
			return
		}
		filter.To = &to
	}

	jobs, total, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err, "list jobs")
		return
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToDTO(&jobs[i])
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:     jobResponse,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// StopJob handles POST /api/v1/jobs/:job_id/stop
// Stops a RUNNING job and removes any residual pending entry.
func (h *JobHandler) StopJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.StopJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "stop job")
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Resets a FAILED or STOPPED job back to PENDING. Queue-bound jobs get
// a fresh pending entry; unqueued jobs are dispatched again.
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.RetryJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, "retry job")
		return
	}

	if job.QueueName == nil || *job.QueueName == "" {
		msg := events.ControlMessage{Type: events.ControlDispatchJob, JobID: job.JobID}
		if err := h.control.Send(c.Request.Context(), msg); err != nil {
			respondError(c, h.logger, err, "dispatch job")
			return
		}
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Deletes a terminal job record.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	if err := h.store.DeleteJob(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err, "delete job")
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPending handles GET /api/v1/pending
func (h *JobHandler) ListPending(c *gin.Context) {
	var req dto.ListPendingRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	entries, total, err := h.store.ListPending(c.Request.Context(), storage.PendingFilter{
		QueueName:   req.QueueName,
		HandlerRef:  req.HandlerRef,
		TriggerType: req.TriggerType,
		Page:        req.Page,
		PageSize:    req.PageSize,
	})
	if err != nil {
		respondError(c, h.logger, err, "list pending entries")
		return
	}

	response := make([]dto.PendingEntryDTO, len(entries))
	for i, entry := range entries {
		response[i] = dto.PendingEntryDTO{
			JobID:       entry.JobID,
			TaskID:      entry.TaskID,
			HandlerRef:  entry.HandlerRef,
			TriggerType: entry.TriggerType,
			Priority:    entry.Priority,
			QueueName:   entry.QueueName,
			PushTime:    entry.PushTime.Format(time.RFC3339),
			PopBatchNo:  entry.PopBatchNo,
		}
	}

	c.JSON(http.StatusOK, dto.ListPendingResponse{
		Entries:  response,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// ListDequeueAudits handles GET /api/v1/audits/:queue_name
func (h *JobHandler) ListDequeueAudits(c *gin.Context) {
	queueName := c.Param("queue_name")

	limit := 50
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be between 1 and 500",
			})
			return
		}
		limit = parsed
	}

	audits, err := h.store.ListDequeueAudits(c.Request.Context(), queueName, limit)
	if err != nil {
		respondError(c, h.logger, err, "list dequeue audits")
		return
	}

	response := make([]dto.DequeueAuditDTO, len(audits))
	for i, audit := range audits {
		response[i] = dto.DequeueAuditDTO{
			ID:          audit.ID,
			JobID:       audit.JobID,
			HandlerRef:  audit.HandlerRef,
			TriggerType: audit.TriggerType,
			Priority:    audit.Priority,
			QueueName:   audit.QueueName,
			PushTime:    audit.PushTime.Format(time.RFC3339),
			PopBatchNo:  audit.PopBatchNo,
			PopTime:     audit.PopTime.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"audits": response})
}
