package joblog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/scheduler-be/shared/logger"
)

func newTestBroker(window time.Duration) *Broker {
	return NewBroker(window, logger.NewDefault().Logger)
}

func TestBrokerDeliversBatchedLines(t *testing.T) {
	broker := newTestBroker(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.Run(ctx)

	ch, unsubscribe := broker.Subscribe("job-1")
	defer unsubscribe()

	broker.Publish("job-1", "line one")
	broker.Publish("job-1", "line two")

	select {
	case batch := <-ch:
		assert.Equal(t, []string{"line one", "line two"}, batch)
	case <-time.After(time.Second):
		t.Fatal("no batch delivered")
	}
}

func TestBrokerDropsLinesWithoutSubscriber(t *testing.T) {
	broker := newTestBroker(10 * time.Millisecond)

	broker.Publish("job-unwatched", "nobody is listening")

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Empty(t, broker.buf)
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := newTestBroker(10 * time.Millisecond)

	ch, unsubscribe := broker.Subscribe("job-1")
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not repopulate the buffer.
	broker.Publish("job-1", "late line")
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Empty(t, broker.buf)
}

func TestBrokerResubscribeReplacesListener(t *testing.T) {
	broker := newTestBroker(10 * time.Millisecond)

	old, _ := broker.Subscribe("job-1")
	fresh, cancel := broker.Subscribe("job-1")
	defer cancel()

	_, open := <-old
	assert.False(t, open, "previous subscriber channel should be closed")

	broker.Publish("job-1", "line")
	broker.flush()

	select {
	case batch := <-fresh:
		assert.Equal(t, []string{"line"}, batch)
	case <-time.After(time.Second):
		t.Fatal("no batch delivered to new subscriber")
	}
}

func TestRecorderWritesDurableFile(t *testing.T) {
	dir := t.TempDir()
	broker := newTestBroker(10 * time.Millisecond)

	recorder, err := NewRecorder(dir, broker)
	require.NoError(t, err)

	jlog, err := recorder.Open("job-42")
	require.NoError(t, err)

	jlog.Printf("step %d done", 1)
	jlog.Printf("finished")
	require.NoError(t, jlog.Close())

	assert.Equal(t, filepath.Join(dir, "job-42.log"), jlog.Path())

	data, err := os.ReadFile(jlog.Path())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "step 1 done")
	assert.Contains(t, lines[1], "finished")
}

func TestJobLogNilReceiver(t *testing.T) {
	var jlog *JobLog
	jlog.Printf("must not panic")
}

func TestJobLogContext(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, nil)
	require.NoError(t, err)

	jlog, err := recorder.Open("job-ctx")
	require.NoError(t, err)
	defer jlog.Close()

	ctx := NewContext(context.Background(), jlog)
	assert.Equal(t, jlog, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
