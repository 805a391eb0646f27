package joblog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder creates the durable per-job log files and wires each one to
// the live broker.
type Recorder struct {
	dir    string
	broker *Broker
}

// NewRecorder creates a recorder writing under dir. The directory is
// created if missing.
func NewRecorder(dir string, broker *Broker) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job log dir: %w", err)
	}
	return &Recorder{dir: dir, broker: broker}, nil
}

// Open creates the log file for one job run.
func (r *Recorder) Open(jobID string) (*JobLog, error) {
	path := filepath.Join(r.dir, jobID+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open job log file: %w", err)
	}
	return &JobLog{
		jobID:  jobID,
		path:   path,
		file:   file,
		broker: r.broker,
	}, nil
}

// JobLog is the log sink bound to one job for the duration of its
// handler call. Every line goes to the job's file and, best effort, to
// the live broker tagged with the job id.
type JobLog struct {
	jobID  string
	path   string
	broker *Broker

	mu   sync.Mutex
	file *os.File
}

// Printf appends one timestamped line. Safe on a nil receiver so
// handlers can log without checking whether a sink is bound.
func (l *JobLog) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))

	l.mu.Lock()
	if l.file != nil {
		fmt.Fprintln(l.file, line)
	}
	l.mu.Unlock()

	if l.broker != nil {
		l.broker.Publish(l.jobID, line)
	}
}

// Path returns the durable log file path.
func (l *JobLog) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *JobLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

type contextKey struct{}

// NewContext binds a job log to the context for the duration of a
// handler call.
func NewContext(ctx context.Context, l *JobLog) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the job log bound to the context, or nil.
func FromContext(ctx context.Context) *JobLog {
	l, _ := ctx.Value(contextKey{}).(*JobLog)
	return l
}
