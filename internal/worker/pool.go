package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/scheduler-be/internal/domain"
)

// Task is one unit of work submitted to the pool.
type Task struct {
	JobID string
	Run   func(ctx context.Context)
}

// Pool is a bounded worker pool. A fixed number of goroutines drain a
// buffered task channel; Submit applies backpressure once the buffer is
// full. The pool is constructed explicitly and injected into the queue
// scanner and the control consumer.
type Pool struct {
	logger *slog.Logger
	size   int
	tasks  chan Task

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool with the given number of workers and submit
// buffer depth.
func NewPool(size, depth int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if depth < 0 {
		depth = 0
	}
	return &Pool{
		logger: logger,
		size:   size,
		tasks:  make(chan Task, depth),
		quit:   make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Workers exit when the pool is
// stopped or the context is canceled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Spawning worker pool",
		slog.Int("pool_size", p.size),
		slog.Int("queue_depth", cap(p.tasks)),
	)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("worker-%d", workerNum)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case <-p.quit:
			// Finish whatever is already buffered, then exit.
			p.drain(ctx, workerName)
			return

		case task := <-p.tasks:
			p.runTask(ctx, workerName, task)
		}
	}
}

func (p *Pool) drain(ctx context.Context, workerName string) {
	for {
		select {
		case task := <-p.tasks:
			p.runTask(ctx, workerName, task)
		default:
			p.logger.Info("Worker goroutine stopping - pool closed",
				slog.String("worker_name", workerName),
			)
			return
		}
	}
}

// runTask executes one task, containing any panic so the worker
// goroutine survives.
func (p *Pool) runTask(ctx context.Context, workerName string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic in worker task",
				slog.String("worker_name", workerName),
				slog.String("job_id", task.JobID),
				slog.Any("panic", r),
			)
		}
	}()

	p.logger.Debug("Worker picked up task",
		slog.String("worker_name", workerName),
		slog.String("job_id", task.JobID),
	)

	task.Run(ctx)
}

// Submit hands a task to the pool. It blocks while the submit buffer is
// full (backpressure toward the caller) and fails once the pool is
// stopped or the context is canceled.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.quit:
		return domain.ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return domain.ErrPoolClosed
	case <-ctx.Done():
		return fmt.Errorf("submit canceled for job %s: %w", task.JobID, ctx.Err())
	}
}

// Stop closes the pool and waits for buffered and in-flight tasks to
// finish. Safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
