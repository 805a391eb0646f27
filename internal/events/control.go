package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/scheduler-be/shared/rabbitmq"
)

// Control message types carried from the API service to the scheduler
// service. The scheduler process is the single scheduling authority, so
// trigger registration and direct dispatch happen there; the API only
// records intent and sends a control message.
const (
	ControlTaskUpsert  = "task_upsert"  // (re)register or cancel the live trigger for a task
	ControlTaskDelete  = "task_delete"  // cancel the live trigger for a deleted task
	ControlTriggerNow  = "trigger_now"  // fire a task immediately, bypassing its schedule
	ControlDispatchJob = "dispatch_job" // run an unqueued submitted job
)

// ControlMessage is one scheduler control request.
type ControlMessage struct {
	Type   string `json:"type"`
	TaskID int64  `json:"task_id,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

// ControlPublisher sends control messages to the scheduler service.
type ControlPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewControlPublisher creates a publisher on the given client.
func NewControlPublisher(client *rabbitmq.Client, logger *slog.Logger) *ControlPublisher {
	return &ControlPublisher{client: client, logger: logger}
}

// Send publishes one control message with retry. Unlike job events,
// control messages carry state changes, so a publish failure is
// surfaced to the caller.
func (p *ControlPublisher) Send(ctx context.Context, msg ControlMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal control message: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, "", body); err != nil {
		return fmt.Errorf("failed to publish control message: %w", err)
	}

	p.logger.Debug("Control message sent",
		slog.String("type", msg.Type),
		slog.Int64("task_id", msg.TaskID),
		slog.String("job_id", msg.JobID),
	)

	return nil
}
