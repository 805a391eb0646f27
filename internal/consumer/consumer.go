package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/events"
	"github.com/cuongbtq/scheduler-be/internal/worker"
	"github.com/cuongbtq/scheduler-be/shared/rabbitmq"
)

// Store is the persistence slice needed to act on control messages.
type Store interface {
	GetTask(ctx context.Context, taskID int64) (*domain.TaskDefinition, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkJobRunning(ctx context.Context, jobID string, startTime time.Time) error
}

// Triggers is the live-trigger surface of the dynamic scheduler.
type Triggers interface {
	Apply(task *domain.TaskDefinition) error
	Unregister(taskID int64)
	TriggerNow(ctx context.Context, taskID int64) (string, error)
}

// Executor runs a dispatched job through the execution envelope.
type Executor interface {
	ExecuteJob(ctx context.Context, jobID string)
}

// Pool accepts jobs for bounded concurrent execution.
type Pool interface {
	Submit(ctx context.Context, task worker.Task) error
}

// Consumer drains the control queue and applies each message to the
// scheduler process: trigger registration changes, manual fires, and
// direct job dispatch.
type Consumer struct {
	logger        *slog.Logger
	client        *rabbitmq.Client
	store         Store
	triggers      Triggers
	executor      Executor
	pool          Pool
	events        events.Publisher
	consumerTag   string
	prefetchCount int
}

// New creates a control-queue consumer.
func New(client *rabbitmq.Client, store Store, triggers Triggers, executor Executor, pool Pool, publisher events.Publisher, prefetchCount int, logger *slog.Logger) *Consumer {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Consumer{
		logger:        logger,
		client:        client,
		store:         store,
		triggers:      triggers,
		executor:      executor,
		pool:          pool,
		events:        publisher,
		consumerTag:   "scheduler-control",
		prefetchCount: prefetchCount,
	}
}

// Run consumes control messages until the context is canceled or the
// delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.client.Qos(c.prefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.client.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Control consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Control consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("control delivery channel closed")
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var msg events.ControlMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse control message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		// malformed messages are not retryable
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to NACK malformed message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	err := c.handleMessage(ctx, msg)
	if err != nil {
		c.logger.Error("Control message failed",
			slog.String("type", msg.Type),
			slog.Int64("task_id", msg.TaskID),
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
		requeue := !errors.Is(err, domain.ErrTaskNotFound) &&
			!errors.Is(err, domain.ErrJobNotFound) &&
			!errors.Is(err, domain.ErrInvalidTransition)
		if nackErr := delivery.Nack(false, requeue); nackErr != nil {
			c.logger.Error("Failed to NACK control message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK control message",
			slog.String("error", ackErr.Error()),
		)
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg events.ControlMessage) error {
	switch msg.Type {
	case events.ControlTaskUpsert:
		task, err := c.store.GetTask(ctx, msg.TaskID)
		if err != nil {
			return err
		}
		return c.triggers.Apply(task)

	case events.ControlTaskDelete:
		c.triggers.Unregister(msg.TaskID)
		return nil

	case events.ControlTriggerNow:
		_, err := c.triggers.TriggerNow(ctx, msg.TaskID)
		return err

	case events.ControlDispatchJob:
		return c.dispatchJob(ctx, msg.JobID)

	default:
		return fmt.Errorf("unknown control message type %q", msg.Type)
	}
}

// dispatchJob claims a submitted unqueued job and hands it to the
// worker pool. The RUNNING flip is conditional on PENDING, so a
// redelivered message cannot start the job twice.
func (c *Consumer) dispatchJob(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	startTime := time.Now()
	if err := c.store.MarkJobRunning(ctx, jobID, startTime); err != nil {
		return err
	}

	c.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:       job.JobID,
		TaskID:      job.TaskID,
		HandlerRef:  job.HandlerRef,
		QueueName:   job.QueueName,
		TriggerType: job.TriggerType,
		Status:      domain.JobStatusRunning,
		At:          startTime,
	})

	return c.pool.Submit(ctx, worker.Task{
		JobID: jobID,
		Run: func(taskCtx context.Context) {
			c.executor.ExecuteJob(taskCtx, jobID)
		},
	})
}
