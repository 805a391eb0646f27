package joblog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultBatchWindow is the flush interval for the live log push path.
const DefaultBatchWindow = 50 * time.Millisecond

// Broker fans newly emitted job log lines out to live subscribers.
// Lines are batched per job id inside a small flush window; lines for
// jobs nobody is watching are dropped. This is a notification
// convenience only - the durable record is the log file the Recorder
// writes separately.
type Broker struct {
	logger *slog.Logger
	window time.Duration

	mu   sync.Mutex
	subs map[string]chan []string
	buf  map[string][]string
}

// NewBroker creates a broker with the given batch window.
func NewBroker(window time.Duration, logger *slog.Logger) *Broker {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	return &Broker{
		logger: logger,
		window: window,
		subs:   make(map[string]chan []string),
		buf:    make(map[string][]string),
	}
}

// Run flushes batched lines until the context is canceled.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return ctx.Err()
		case <-ticker.C:
			b.flush()
		}
	}
}

// Publish queues one log line for the job's subscriber. Without a
// subscriber the line is dropped immediately.
func (b *Broker) Publish(jobID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[jobID]; !ok {
		return
	}
	b.buf[jobID] = append(b.buf[jobID], line)
}

// Subscribe registers a live listener for one job's log lines. The
// returned cancel func must be called when the listener goes away.
func (b *Broker) Subscribe(jobID string) (<-chan []string, func()) {
	ch := make(chan []string, 16)

	b.mu.Lock()
	if old, ok := b.subs[jobID]; ok {
		close(old)
	}
	b.subs[jobID] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.subs[jobID]; ok && cur == ch {
			delete(b.subs, jobID)
			delete(b.buf, jobID)
			close(ch)
		}
	}

	return ch, cancel
}

func (b *Broker) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for jobID, lines := range b.buf {
		ch, ok := b.subs[jobID]
		if ok {
			select {
			case ch <- lines:
			default:
				// Slow subscriber, drop the batch rather than block.
				b.logger.Debug("Dropped log batch for slow subscriber",
					slog.String("job_id", jobID),
					slog.Int("lines", len(lines)),
				)
			}
		}
		delete(b.buf, jobID)
	}
}
