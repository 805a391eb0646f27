package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/scheduler-be/internal/api/dto"
	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/storage"
)

// QueueHandler handles queue-related HTTP requests
type QueueHandler struct {
	logger *slog.Logger
	store  *storage.Store
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}

// CreateQueue handles POST /api/v1/queues
func (h *QueueHandler) CreateQueue(c *gin.Context) {
	var req dto.CreateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	queue := &domain.Queue{
		Name:     req.Name,
		Capacity: *req.Capacity,
		Enabled:  enabled,
	}

	id, err := h.store.CreateQueue(c.Request.Context(), queue)
	if err != nil {
		respondError(c, h.logger, err, "create queue")
		return
	}
	queue.ID = id

	h.logger.Info("Queue created",
		slog.String("queue_name", queue.Name),
		slog.Int("capacity", queue.Capacity),
	)

	c.JSON(http.StatusCreated, h.queueToDTO(c, queue))
}

// GetQueue handles GET /api/v1/queues/:queue_id
func (h *QueueHandler) GetQueue(c *gin.Context) {
	queueID, err := strconv.ParseInt(c.Param("queue_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue_id must be an integer",
		})
		return
	}

	queue, err := h.store.GetQueue(c.Request.Context(), queueID)
	if err != nil {
		respondError(c, h.logger, err, "get queue")
		return
	}

	c.JSON(http.StatusOK, h.queueToDTO(c, queue))
}

// ListQueues handles GET /api/v1/queues
func (h *QueueHandler) ListQueues(c *gin.Context) {
	queues, err := h.store.ListQueues(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "list queues")
		return
	}

	response := make([]dto.QueueDTO, len(queues))
	for i := range queues {
		response[i] = h.queueToDTO(c, &queues[i])
	}

	c.JSON(http.StatusOK, gin.H{"queues": response})
}

// UpdateQueue handles PUT /api/v1/queues/:queue_id
// Capacity changes take effect on the scanner's next pop phase.
func (h *QueueHandler) UpdateQueue(c *gin.Context) {
	queueID, err := strconv.ParseInt(c.Param("queue_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue_id must be an integer",
		})
		return
	}

	var req dto.UpdateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	queue, err := h.store.GetQueue(c.Request.Context(), queueID)
	if err != nil {
		respondError(c, h.logger, err, "update queue")
		return
	}

	queue.Capacity = *req.Capacity
	queue.Enabled = *req.Enabled

	if err := h.store.UpdateQueue(c.Request.Context(), queue); err != nil {
		respondError(c, h.logger, err, "update queue")
		return
	}

	h.logger.Info("Queue updated",
		slog.String("queue_name", queue.Name),
		slog.Int("capacity", queue.Capacity),
		slog.Bool("enabled", queue.Enabled),
	)

	c.JSON(http.StatusOK, h.queueToDTO(c, queue))
}

// DeleteQueue handles DELETE /api/v1/queues/:queue_id
// Rejected with 409 while pending entries still reference the queue.
func (h *QueueHandler) DeleteQueue(c *gin.Context) {
	queueID, err := strconv.ParseInt(c.Param("queue_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "queue_id must be an integer",
		})
		return
	}

	if err := h.store.DeleteQueue(c.Request.Context(), queueID); err != nil {
		respondError(c, h.logger, err, "delete queue")
		return
	}

	c.Status(http.StatusNoContent)
}

// queueToDTO decorates a queue with its live pending and running
// counts. Count lookups are best effort; a failure leaves zeros.
func (h *QueueHandler) queueToDTO(c *gin.Context, queue *domain.Queue) dto.QueueDTO {
	pending, err := h.store.CountPendingByQueue(c.Request.Context(), queue.Name)
	if err != nil {
		h.logger.Warn("Failed to count pending entries",
			slog.String("queue_name", queue.Name),
			slog.String("error", err.Error()),
		)
	}
	running, err := h.store.CountRunning(c.Request.Context(), queue.Name)
	if err != nil {
		h.logger.Warn("Failed to count running jobs",
			slog.String("queue_name", queue.Name),
			slog.String("error", err.Error()),
		)
	}

	return dto.QueueDTO{
		ID:        queue.ID,
		Name:      queue.Name,
		Capacity:  queue.Capacity,
		Enabled:   queue.Enabled,
		Pending:   pending,
		Running:   running,
		CreatedAt: queue.CreatedAt.Format(time.RFC3339),
	}
}
