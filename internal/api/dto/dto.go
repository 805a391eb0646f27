package dto

import "time"

type SubmitJobRequest struct {
	HandlerRef string         `json:"handler_ref" binding:"required"`
	Params     map[string]any `json:"params"`
	QueueName  string         `json:"queue_name"`
	Priority   int            `json:"priority"`
}

type ListJobsRequest struct {
	Status      string `form:"status"`
	HandlerRef  string `form:"handler_ref"`
	QueueName   string `form:"queue_name"`
	TriggerType string `form:"trigger_type"`
	From        string `form:"from"` // RFC3339
	To          string `form:"to"`   // RFC3339
	Search      string `form:"search"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

type JobDTO struct {
	JobID        string  `json:"job_id"`
	TaskID       *int64  `json:"task_id,omitempty"`
	HandlerRef   string  `json:"handler_ref"`
	Params       string  `json:"params,omitempty"`
	QueueName    *string `json:"queue_name,omitempty"`
	Priority     int     `json:"priority"`
	TriggerType  string  `json:"trigger_type"`
	Status       string  `json:"status"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
	DurationMS   *int64  `json:"duration_ms,omitempty"`
	LogPath      *string `json:"log_path,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs     []JobDTO `json:"jobs"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type ListPendingRequest struct {
	QueueName   string `form:"queue_name"`
	HandlerRef  string `form:"handler_ref"`
	TriggerType string `form:"trigger_type"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

type PendingEntryDTO struct {
	JobID       string  `json:"job_id"`
	TaskID      *int64  `json:"task_id,omitempty"`
	HandlerRef  string  `json:"handler_ref"`
	TriggerType string  `json:"trigger_type"`
	Priority    int     `json:"priority"`
	QueueName   string  `json:"queue_name"`
	PushTime    string  `json:"push_time"`
	PopBatchNo  *string `json:"pop_batch_no,omitempty"`
}

type ListPendingResponse struct {
	Entries  []PendingEntryDTO `json:"entries"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

type DequeueAuditDTO struct {
	ID          int64  `json:"id"`
	JobID       string `json:"job_id"`
	HandlerRef  string `json:"handler_ref"`
	TriggerType string `json:"trigger_type"`
	Priority    int    `json:"priority"`
	QueueName   string `json:"queue_name"`
	PushTime    string `json:"push_time"`
	PopBatchNo  string `json:"pop_batch_no"`
	PopTime     string `json:"pop_time"`
}

// Capacity is a pointer so an explicit 0 (admit nothing, keep entries
// queued) passes the required binding.
type CreateQueueRequest struct {
	Name     string `json:"name" binding:"required"`
	Capacity *int   `json:"capacity" binding:"required,min=0"`
	Enabled  *bool  `json:"enabled"`
}

type UpdateQueueRequest struct {
	Capacity *int  `json:"capacity" binding:"required,min=0"`
	Enabled  *bool `json:"enabled" binding:"required"`
}

type QueueDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Enabled   bool   `json:"enabled"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	CreatedAt string `json:"created_at"`
}

type CreateTaskRequest struct {
	Name       string         `json:"name" binding:"required"`
	Label      string         `json:"label"`
	CronExpr   string         `json:"cron_expr" binding:"required"`
	Enabled    *bool          `json:"enabled"`
	HandlerRef string         `json:"handler_ref" binding:"required"`
	FireParams map[string]any `json:"fire_params"`
	QueueName  string         `json:"queue_name"`
	Priority   int            `json:"priority"`
}

type UpdateTaskRequest struct {
	Label      string         `json:"label"`
	CronExpr   string         `json:"cron_expr" binding:"required"`
	Enabled    *bool          `json:"enabled" binding:"required"`
	HandlerRef string         `json:"handler_ref" binding:"required"`
	FireParams map[string]any `json:"fire_params"`
	QueueName  string         `json:"queue_name"`
	Priority   int            `json:"priority"`
}

type TaskDTO struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Label        string  `json:"label,omitempty"`
	CronExpr     string  `json:"cron_expr"`
	Enabled      bool    `json:"enabled"`
	HandlerRef   string  `json:"handler_ref"`
	FireParams   string  `json:"fire_params,omitempty"`
	QueueName    *string `json:"queue_name,omitempty"`
	Priority     int     `json:"priority"`
	NextFireTime *string `json:"next_fire_time,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// FormatTime renders an optional timestamp for a response.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
