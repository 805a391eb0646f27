package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is a single job instance with its lifecycle state. While a
// queue-bound job is PENDING, its JobID doubles as the join key to the
// matching PendingEntry row.
type Job struct {
	JobID        string     `db:"job_id"`
	TaskID       *int64     `db:"task_id"`    // nil for manual submissions
	HandlerRef   string     `db:"handler_ref"`
	Params       string     `db:"params"` // JSON blob, decoded at dispatch time
	QueueName    *string    `db:"queue_name"` // nil means the job runs immediately
	Priority     int        `db:"priority"`   // queue ordering, kept for retry reinsertion
	TriggerType  string     `db:"trigger_type"`
	Status       string     `db:"status"`
	StartTime    *time.Time `db:"start_time"`
	EndTime      *time.Time `db:"end_time"`
	DurationMS   *int64     `db:"duration_ms"`
	LogPath      *string    `db:"log_path"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// DecodeParams parses the job's parameter blob. An empty blob decodes to
// an empty map.
func (j *Job) DecodeParams() (map[string]any, error) {
	return DecodeParams(j.Params)
}

// DecodeParams parses a JSON fire-parameter blob into a map.
func DecodeParams(blob string) (map[string]any, error) {
	params := map[string]any{}
	if blob == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(blob), &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return params, nil
}

// EncodeParams serializes a parameter map back into a JSON blob.
func EncodeParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(data), nil
}

// PendingEntry is one row per job waiting to run on a queue. Created by
// the push phase or a manual submission, deleted when the pop phase
// claims it or the job is stopped or deleted.
type PendingEntry struct {
	JobID       string    `db:"job_id"`
	TaskID      *int64    `db:"task_id"`
	HandlerRef  string    `db:"handler_ref"`
	Params      string    `db:"params"`
	TriggerType string    `db:"trigger_type"`
	Priority    int       `db:"priority"` // higher is more urgent
	QueueName   string    `db:"queue_name"`
	PushTime    time.Time `db:"push_time"`
	PopBatchNo  *string   `db:"pop_batch_no"` // claim tag set by the pop phase
}

// DequeueAudit is an append-only copy of a PendingEntry taken at claim
// time, recording when and with what priority the entry left the queue.
type DequeueAudit struct {
	ID          int64     `db:"id"`
	JobID       string    `db:"job_id"`
	TaskID      *int64    `db:"task_id"`
	HandlerRef  string    `db:"handler_ref"`
	Params      string    `db:"params"`
	TriggerType string    `db:"trigger_type"`
	Priority    int       `db:"priority"`
	QueueName   string    `db:"queue_name"`
	PushTime    time.Time `db:"push_time"`
	PopBatchNo  string    `db:"pop_batch_no"`
	PopTime     time.Time `db:"pop_time"`
}
