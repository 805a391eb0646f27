package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/scheduler-be/shared/rabbitmq"
)

// JobEvent is one job lifecycle notification published to the events
// exchange. Routing key is "job." plus the lowercased status, e.g.
// "job.success".
type JobEvent struct {
	JobID       string    `json:"job_id"`
	TaskID      *int64    `json:"task_id,omitempty"`
	HandlerRef  string    `json:"handler_ref"`
	QueueName   *string   `json:"queue_name,omitempty"`
	TriggerType string    `json:"trigger_type"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher publishes job lifecycle events. Publishing is best effort;
// implementations must not fail the job on a publish error.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent)
}

// RabbitPublisher publishes events to a RabbitMQ exchange.
type RabbitPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewRabbitPublisher creates a publisher on the given client.
func NewRabbitPublisher(client *rabbitmq.Client, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{client: client, logger: logger}
}

// PublishJobEvent publishes one event, logging and swallowing failures.
func (p *RabbitPublisher) PublishJobEvent(ctx context.Context, event JobEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		return
	}

	routingKey := "job." + strings.ToLower(event.Status)
	if err := p.client.Publish(ctx, routingKey, body); err != nil {
		p.logger.Warn("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
	}
}

// NoopPublisher discards events; used when the events exchange is not
// configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishJobEvent(context.Context, JobEvent) {}
