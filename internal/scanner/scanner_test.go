package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/internal/worker"
	"github.com/cuongbtq/scheduler-be/shared/logger"
)

// fakeStore is an in-memory stand-in for storage.Store implementing the
// same claim semantics.
type fakeStore struct {
	mu sync.Mutex

	tasks   map[int64]*domain.TaskDefinition
	queues  []domain.Queue
	jobs    map[string]*domain.Job
	pending map[string]*domain.PendingEntry
	audits  []domain.DequeueAudit

	claimErr error
	auditErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:   make(map[int64]*domain.TaskDefinition),
		jobs:    make(map[string]*domain.Job),
		pending: make(map[string]*domain.PendingEntry),
	}
}

func (s *fakeStore) ListQueuedEnabledTasks(context.Context) ([]domain.TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskDefinition
	for _, task := range s.tasks {
		if task.Enabled && task.Queued() {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ClaimNextFireTime(_ context.Context, taskID int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return s.claimErr
	}
	task, ok := s.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	if task.NextFireTime != nil && task.NextFireTime.Equal(next) {
		return domain.ErrClaimLost
	}
	task.NextFireTime = &next
	return nil
}

func (s *fakeStore) CreateQueuedJob(_ context.Context, job *domain.Job, entry *domain.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copiedJob := *job
	copiedEntry := *entry
	s.jobs[job.JobID] = &copiedJob
	s.pending[entry.JobID] = &copiedEntry
	return nil
}

func (s *fakeStore) ListEnabledQueues(context.Context) ([]domain.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Queue
	for _, queue := range s.queues {
		if queue.Enabled {
			out = append(out, queue)
		}
	}
	return out, nil
}

func (s *fakeStore) CountRunning(_ context.Context, queueName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusRunning && job.QueueName != nil && *job.QueueName == queueName {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) ClaimPendingBatch(_ context.Context, queueName, batchNo string, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.PendingEntry
	for _, entry := range s.pending {
		if entry.QueueName == queueName && entry.PopBatchNo == nil {
			candidates = append(candidates, entry)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].PushTime.Before(candidates[j].PushTime)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	for _, entry := range candidates {
		tag := batchNo
		entry.PopBatchNo = &tag
	}
	return len(candidates), nil
}

func (s *fakeStore) ListPendingByBatch(_ context.Context, batchNo string) ([]domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingEntry
	for _, entry := range s.pending {
		if entry.PopBatchNo != nil && *entry.PopBatchNo == batchNo {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].PushTime.Before(out[j].PushTime)
	})
	return out, nil
}

func (s *fakeStore) ReleasePendingClaim(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.pending[jobID]; ok {
		entry.PopBatchNo = nil
	}
	return nil
}

func (s *fakeStore) DeletePending(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, jobID)
	return nil
}

func (s *fakeStore) MarkJobRunning(_ context.Context, jobID string, startTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return domain.ErrInvalidTransition
	}
	job.Status = domain.JobStatusRunning
	job.StartTime = &startTime
	return nil
}

func (s *fakeStore) InsertDequeueAudit(_ context.Context, audit *domain.DequeueAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditErr != nil {
		return s.auditErr
	}
	s.audits = append(s.audits, *audit)
	return nil
}

type recordingExecutor struct {
	mu   sync.Mutex
	jobs []string
}

func (e *recordingExecutor) ExecuteJob(_ context.Context, jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, jobID)
}

// inlinePool runs submissions synchronously so tests observe dispatch
// order deterministically.
type inlinePool struct {
	mu        sync.Mutex
	submitted []string
}

func (p *inlinePool) Submit(ctx context.Context, task worker.Task) error {
	p.mu.Lock()
	p.submitted = append(p.submitted, task.JobID)
	p.mu.Unlock()
	task.Run(ctx)
	return nil
}

func newTestScanner(store *fakeStore, at time.Time) (*Scanner, *recordingExecutor, *inlinePool) {
	executor := &recordingExecutor{}
	pool := &inlinePool{}
	s := New(store, executor, pool, nil, time.Second, logger.NewDefault().Logger)
	s.now = func() time.Time { return at }
	return s, executor, pool
}

func queuedTask(id int64, name, expr, queue string, priority int) *domain.TaskDefinition {
	return &domain.TaskDefinition{
		ID:         id,
		Name:       name,
		CronExpr:   expr,
		Enabled:    true,
		HandlerRef: "builtin.echo",
		QueueName:  &queue,
		Priority:   priority,
	}
}

func TestPushPhaseEnqueuesDueTask(t *testing.T) {
	store := newFakeStore()
	store.tasks[1] = queuedTask(1, "nightly", "*/5 * * * *", "reports", 3)

	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	scanner, _, _ := newTestScanner(store, at)

	scanner.PushPhase(context.Background())

	require.Len(t, store.pending, 1)
	require.Len(t, store.jobs, 1)

	for _, entry := range store.pending {
		assert.Equal(t, "reports", entry.QueueName)
		assert.Equal(t, 3, entry.Priority)
		assert.Equal(t, domain.TriggerQueueCron, entry.TriggerType)
		assert.Equal(t, at, entry.PushTime)
	}
	for _, job := range store.jobs {
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Equal(t, domain.TriggerQueueCron, job.TriggerType)
		assert.Equal(t, 3, job.Priority, "job keeps the task priority for retry reinsertion")
	}

	// The claim token moved to the next fire after "now".
	next := store.tasks[1].NextFireTime
	require.NotNil(t, next)
	assert.True(t, next.After(at))
}

func TestPushPhaseSecondTickBeforeNextFireSkips(t *testing.T) {
	store := newFakeStore()
	store.tasks[1] = queuedTask(1, "nightly", "*/5 * * * *", "reports", 0)

	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	scanner, _, _ := newTestScanner(store, at)

	scanner.PushPhase(context.Background())
	require.Len(t, store.pending, 1)

	// Second tick arrives before the stored next fire time.
	scanner.now = func() time.Time { return at.Add(time.Second) }
	scanner.PushPhase(context.Background())

	assert.Len(t, store.pending, 1, "no duplicate entry before the next fire")
}

func TestPushPhaseFiresAgainAfterNextFirePasses(t *testing.T) {
	store := newFakeStore()
	store.tasks[1] = queuedTask(1, "nightly", "*/5 * * * *", "reports", 0)

	at := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	scanner, _, _ := newTestScanner(store, at)

	scanner.PushPhase(context.Background())
	require.Len(t, store.pending, 1)

	scanner.now = func() time.Time { return at.Add(5 * time.Minute) }
	scanner.PushPhase(context.Background())

	assert.Len(t, store.pending, 2)
}

func TestPushPhaseClaimLostSkipsSilently(t *testing.T) {
	store := newFakeStore()
	store.tasks[1] = queuedTask(1, "nightly", "*/5 * * * *", "reports", 0)
	store.claimErr = domain.ErrClaimLost

	scanner, _, _ := newTestScanner(store, time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	scanner.PushPhase(context.Background())

	assert.Empty(t, store.pending)
	assert.Empty(t, store.jobs)
}

func TestPushPhaseBadExpressionDoesNotAbortOthers(t *testing.T) {
	store := newFakeStore()
	store.tasks[1] = queuedTask(1, "broken", "this is not cron", "reports", 0)
	store.tasks[2] = queuedTask(2, "healthy", "*/5 * * * *", "reports", 0)

	scanner, _, _ := newTestScanner(store, time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC))
	scanner.PushPhase(context.Background())

	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, int64(2), *job.TaskID)
	}
}

func pendingEntry(jobID, queue string, priority int, pushTime time.Time) (*domain.Job, *domain.PendingEntry) {
	job := &domain.Job{
		JobID:       jobID,
		HandlerRef:  "builtin.echo",
		QueueName:   &queue,
		TriggerType: domain.TriggerQueueCron,
		Status:      domain.JobStatusPending,
	}
	entry := &domain.PendingEntry{
		JobID:       jobID,
		HandlerRef:  "builtin.echo",
		TriggerType: domain.TriggerQueueCron,
		Priority:    priority,
		QueueName:   queue,
		PushTime:    pushTime,
	}
	return job, entry
}

func seedPending(store *fakeStore, jobID, queue string, priority int, pushTime time.Time) {
	job, entry := pendingEntry(jobID, queue, priority, pushTime)
	store.jobs[jobID] = job
	store.pending[jobID] = entry
}

func TestPopPhaseRespectsCapacity(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 2, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		seedPending(store, id, "reports", 0, base.Add(time.Duration(i)*time.Second))
	}

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Len(t, executor.jobs, 2)
	assert.Len(t, store.pending, 2, "unclaimed entries stay queued")
	assert.Len(t, store.audits, 2)
}

func TestPopPhaseCountsRunningAgainstCapacity(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 2, Enabled: true}}

	queue := "reports"
	store.jobs["busy"] = &domain.Job{
		JobID:     "busy",
		QueueName: &queue,
		Status:    domain.JobStatusRunning,
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)
	seedPending(store, "b", "reports", 0, base.Add(time.Second))

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Len(t, executor.jobs, 1, "only one free slot")
}

func TestPopPhaseFullQueueAdmitsNothing(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 1, Enabled: true}}

	queue := "reports"
	store.jobs["busy"] = &domain.Job{
		JobID:     "busy",
		QueueName: &queue,
		Status:    domain.JobStatusRunning,
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Empty(t, executor.jobs)
	assert.Len(t, store.pending, 1)
}

func TestPopPhaseOrdering(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 10, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "low-old", "reports", 1, base)
	seedPending(store, "high-new", "reports", 9, base.Add(10*time.Second))
	seedPending(store, "high-old", "reports", 9, base.Add(5*time.Second))
	seedPending(store, "mid", "reports", 5, base)

	scanner, _, pool := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Equal(t, []string{"high-old", "high-new", "mid", "low-old"}, pool.submitted)
}

func TestPopPhaseSkipsDisabledQueue(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 5, Enabled: false}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Empty(t, executor.jobs)
}

func TestPopPhaseDropsResidualEntry(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 5, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)
	// The job left PENDING behind the scanner's back.
	store.jobs["a"].Status = domain.JobStatusStopped

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Empty(t, executor.jobs, "stopped job must not be dispatched")
	assert.Empty(t, store.pending, "residual entry removed")
}

func TestPopPhaseZeroCapacityQueueHoldsEntries(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 0, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Empty(t, executor.jobs)
	assert.Len(t, store.pending, 1)
	assert.Nil(t, store.pending["a"].PopBatchNo, "entry stays unclaimed")
}

func TestPopPhaseReleasesClaimOnDispatchFailure(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 5, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)
	store.auditErr = errors.New("connection refused")

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	assert.Empty(t, executor.jobs)
	require.Len(t, store.pending, 1)
	assert.Nil(t, store.pending["a"].PopBatchNo, "failed dispatch must not leave a dead batch tag")

	// The next pass can claim and dispatch the entry normally.
	store.mu.Lock()
	store.auditErr = nil
	store.mu.Unlock()
	scanner.PopPhase(context.Background())

	assert.Equal(t, []string{"a"}, executor.jobs)
	assert.Empty(t, store.pending)
}

func TestDispatchedJobsAreRunning(t *testing.T) {
	store := newFakeStore()
	store.queues = []domain.Queue{{Name: "reports", Capacity: 5, Enabled: true}}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedPending(store, "a", "reports", 0, base)

	scanner, executor, _ := newTestScanner(store, base.Add(time.Minute))
	scanner.PopPhase(context.Background())

	require.Equal(t, []string{"a"}, executor.jobs)
	assert.Equal(t, domain.JobStatusRunning, store.jobs["a"].Status)
	require.Len(t, store.audits, 1)
	assert.Equal(t, "a", store.audits[0].JobID)
	assert.NotEmpty(t, store.audits[0].PopBatchNo)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	scanner, _, _ := newTestScanner(store, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop")
	}
}
