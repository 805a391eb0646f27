package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scheduler-be/internal/domain"
	"github.com/cuongbtq/scheduler-be/shared/logger"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[int64]*domain.TaskDefinition
	jobs  []*domain.Job
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[int64]*domain.TaskDefinition)}
}

func (s *fakeTaskStore) ListDirectEnabledTasks(context.Context) ([]domain.TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TaskDefinition
	for _, task := range s.tasks {
		if task.Enabled && !task.Queued() {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) GetTask(_ context.Context, taskID int64) (*domain.TaskDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs = append(s.jobs, &copied)
	return nil
}

type fakeCronExecutor struct {
	mu    sync.Mutex
	fires []struct {
		jobID  string
		taskID int64
	}
}

func (e *fakeCronExecutor) ExecuteCronTask(_ context.Context, jobID string, taskID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fires = append(e.fires, struct {
		jobID  string
		taskID int64
	}{jobID, taskID})
}

func newTestScheduler(store *fakeTaskStore) (*Scheduler, *fakeCronExecutor) {
	executor := &fakeCronExecutor{}
	s := New(store, executor, nil, nil, logger.NewDefault().Logger)
	return s, executor
}

func directTask(id int64, name, expr string) *domain.TaskDefinition {
	return &domain.TaskDefinition{
		ID:         id,
		Name:       name,
		CronExpr:   expr,
		Enabled:    true,
		HandlerRef: "builtin.heartbeat",
	}
}

func TestRegisterInstallsTrigger(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	require.NoError(t, s.Register(directTask(1, "heartbeat", "* * * * *")))
	assert.True(t, s.Registered(1))
}

func TestRegisterRejectsInvalidExpression(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	err := s.Register(directTask(1, "broken", "every now and then"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
	assert.False(t, s.Registered(1))
}

func TestRegisterReplacesExistingTrigger(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	require.NoError(t, s.Register(directTask(1, "heartbeat", "* * * * *")))
	require.NoError(t, s.Register(directTask(1, "heartbeat", "*/5 * * * *")))

	assert.True(t, s.Registered(1))
	s.mu.Lock()
	assert.Len(t, s.entries, 1)
	s.mu.Unlock()
}

func TestUnregisterIsIdempotent(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	require.NoError(t, s.Register(directTask(1, "heartbeat", "* * * * *")))
	s.Unregister(1)
	assert.False(t, s.Registered(1))

	// Second call is a no-op.
	s.Unregister(1)
	s.Unregister(99)
}

func TestApplyDisabledTaskCancelsTrigger(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	task := directTask(1, "heartbeat", "* * * * *")
	require.NoError(t, s.Register(task))

	task.Enabled = false
	require.NoError(t, s.Apply(task))
	assert.False(t, s.Registered(1))
}

func TestApplyQueueBoundTaskCancelsTrigger(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	task := directTask(1, "heartbeat", "* * * * *")
	require.NoError(t, s.Register(task))

	queue := "reports"
	task.QueueName = &queue
	require.NoError(t, s.Apply(task))
	assert.False(t, s.Registered(1))
}

func TestApplyEnabledTaskRegisters(t *testing.T) {
	store := newFakeTaskStore()
	s, _ := newTestScheduler(store)

	require.NoError(t, s.Apply(directTask(1, "heartbeat", "* * * * *")))
	assert.True(t, s.Registered(1))
}

func TestStartRegistersDirectEnabledTasks(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks[1] = directTask(1, "heartbeat", "* * * * *")
	store.tasks[2] = directTask(2, "disabled", "* * * * *")
	store.tasks[2].Enabled = false
	queue := "reports"
	store.tasks[3] = directTask(3, "queued", "* * * * *")
	store.tasks[3].QueueName = &queue

	s, _ := newTestScheduler(store)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, s.Registered(1))
	assert.False(t, s.Registered(2))
	assert.False(t, s.Registered(3))
}

func TestStartSkipsUnparsableTask(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks[1] = directTask(1, "broken", "nope")
	store.tasks[2] = directTask(2, "healthy", "* * * * *")

	s, _ := newTestScheduler(store)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.False(t, s.Registered(1))
	assert.True(t, s.Registered(2))
}

func TestTriggerNowRunsTaskImmediately(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks[1] = directTask(1, "heartbeat", "* * * * *")

	s, executor := newTestScheduler(store)

	jobID, err := s.TriggerNow(context.Background(), 1)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.Len(t, store.jobs, 1)
	job := store.jobs[0]
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, domain.TriggerHand, job.TriggerType)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	require.NotNil(t, job.StartTime)

	require.Len(t, executor.fires, 1)
	assert.Equal(t, jobID, executor.fires[0].jobID)
	assert.Equal(t, int64(1), executor.fires[0].taskID)
}

func TestTriggerNowUnknownTask(t *testing.T) {
	store := newFakeTaskStore()
	s, executor := newTestScheduler(store)

	_, err := s.TriggerNow(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	assert.Empty(t, store.jobs)
	assert.Empty(t, executor.fires)
}
