package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/scheduler-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "scheduler-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	queueHandler := handler.NewQueueHandler(deps)
	taskHandler := handler.NewTaskHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a manual job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/stop - Stop a running job
			jobs.POST("/:job_id/stop", jobHandler.StopJob)

			// POST /api/v1/jobs/:job_id/retry - Retry a failed or stopped job
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)

			// DELETE /api/v1/jobs/:job_id - Delete a terminal job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		// GET /api/v1/pending - List waiting pending entries
		v1.GET("/pending", jobHandler.ListPending)

		queues := v1.Group("/queues")
		{
			queues.POST("", queueHandler.CreateQueue)
			queues.GET("", queueHandler.ListQueues)
			queues.GET("/:queue_id", queueHandler.GetQueue)
			queues.PUT("/:queue_id", queueHandler.UpdateQueue)
			queues.DELETE("/:queue_id", queueHandler.DeleteQueue)
		}

		// GET /api/v1/audits/:queue_name - Recent dequeue audit rows
		v1.GET("/audits/:queue_name", jobHandler.ListDequeueAudits)

		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.CreateTask)
			tasks.GET("", taskHandler.ListTasks)
			tasks.GET("/:task_id", taskHandler.GetTask)
			tasks.PUT("/:task_id", taskHandler.UpdateTask)
			tasks.DELETE("/:task_id", taskHandler.DeleteTask)

			// POST /api/v1/tasks/:task_id/trigger - Fire immediately
			tasks.POST("/:task_id/trigger", taskHandler.TriggerTask)
		}
	}

	return r
}
