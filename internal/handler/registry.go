package handler

import (
	"context"
	"fmt"
	"sync"
)

// SyncJob is the capability shape for queued and manually submitted
// jobs: run to completion with the decoded fire parameters, report an
// error on failure.
type SyncJob interface {
	Run(ctx context.Context, params map[string]any) error
}

// SyncJobFunc adapts a plain function to SyncJob.
type SyncJobFunc func(ctx context.Context, params map[string]any) error

func (f SyncJobFunc) Run(ctx context.Context, params map[string]any) error {
	return f(ctx, params)
}

// ParamCronTask is the capability shape used by direct (non-queued)
// cron fires. It receives the owning task id and may return the path of
// a log file it wrote itself.
type ParamCronTask interface {
	Run(ctx context.Context, taskID int64, params map[string]any) (logPath string, err error)
}

// ParamCronTaskFunc adapts a plain function to ParamCronTask.
type ParamCronTaskFunc func(ctx context.Context, taskID int64, params map[string]any) (string, error)

func (f ParamCronTaskFunc) Run(ctx context.Context, taskID int64, params map[string]any) (string, error) {
	return f(ctx, taskID, params)
}

// ClaimChecker is an optional interface a ParamCronTask can implement
// to re-validate that it owns the current fire before running.
type ClaimChecker interface {
	OwnsFire(ctx context.Context, taskID int64, params map[string]any) bool
}

// Registry maps stable handler references to registered
// implementations. Registration happens at process start, never
// per-call.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]SyncJob
	cronTasks map[string]ParamCronTask
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:      make(map[string]SyncJob),
		cronTasks: make(map[string]ParamCronTask),
	}
}

// RegisterJob adds a job handler under a reference. Duplicate
// references are rejected.
func (r *Registry) RegisterJob(ref string, job SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[ref]; exists {
		return fmt.Errorf("job handler %q already registered", ref)
	}
	r.jobs[ref] = job
	return nil
}

// RegisterCronTask adds a cron task handler under a reference.
func (r *Registry) RegisterCronTask(ref string, task ParamCronTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cronTasks[ref]; exists {
		return fmt.Errorf("cron task handler %q already registered", ref)
	}
	r.cronTasks[ref] = task
	return nil
}

// ResolveJob looks up a job handler by reference.
func (r *Registry) ResolveJob(ref string) (SyncJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[ref]
	return job, ok
}

// ResolveCronTask looks up a cron task handler by reference.
func (r *Registry) ResolveCronTask(ref string) (ParamCronTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.cronTasks[ref]
	return task, ok
}

// List returns the registered references of both shapes.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.jobs)+len(r.cronTasks))
	for ref := range r.jobs {
		refs = append(refs, ref)
	}
	for ref := range r.cronTasks {
		refs = append(refs, ref)
	}
	return refs
}
