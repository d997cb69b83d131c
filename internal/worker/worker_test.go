package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"
)

type memQueue struct {
	mu       sync.Mutex
	waiting  []jobqueue.Job
	acked    []jobqueue.Job
	requeued []jobqueue.Job
}

func (m *memQueue) ClaimDue(_ context.Context, now time.Time, limit int) ([]jobqueue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due, rest []jobqueue.Job
	for _, j := range m.waiting {
		if len(due) < limit && !j.RunAt.After(now) {
			due = append(due, j)
		} else {
			rest = append(rest, j)
		}
	}
	m.waiting = rest
	return due, nil
}

func (m *memQueue) Ack(_ context.Context, job jobqueue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, job)
	return nil
}

func (m *memQueue) Requeue(_ context.Context, job jobqueue.Job, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Attempts++
	job.RunAt = runAt
	m.requeued = append(m.requeued, job)
	m.waiting = append(m.waiting, job)
	return nil
}

func (m *memQueue) ReapExpired(context.Context, time.Time) (int, error) { return 0, nil }

func newTestWorker(q jobQueue, maxAttempts int) *Worker {
	return New(q, Config{MaxAttempts: maxAttempts}, logger.NewLogger(nil), nil)
}

func mustJob(t *testing.T, jobType string, runAt time.Time) jobqueue.Job {
	t.Helper()
	job, err := jobqueue.NewJob(jobType, map[string]string{"k": "v"}, runAt)
	require.NoError(t, err)
	return job
}

func TestPollDispatchesByJobType(t *testing.T) {
	q := &memQueue{}
	now := time.Now()
	q.waiting = append(q.waiting,
		mustJob(t, jobqueue.TypeFlushDigest, now.Add(-time.Minute)),
		mustJob(t, jobqueue.TypeSendSMS, now.Add(-time.Minute)),
		mustJob(t, jobqueue.TypeSendSMS, now.Add(time.Hour)), // not due yet
	)

	var flushes, sends int
	w := newTestWorker(q, 3)
	w.Register(jobqueue.TypeFlushDigest, func(context.Context, json.RawMessage) error {
		flushes++
		return nil
	})
	w.Register(jobqueue.TypeSendSMS, func(context.Context, json.RawMessage) error {
		sends++
		return nil
	})

	w.poll(context.Background())

	assert.Equal(t, 1, flushes)
	assert.Equal(t, 1, sends)
	assert.Len(t, q.acked, 2)
	assert.Len(t, q.waiting, 1, "future job stays queued")
}

func TestFailedJobRetriesWithBackoff(t *testing.T) {
	q := &memQueue{}
	now := time.Now()
	q.waiting = append(q.waiting, mustJob(t, jobqueue.TypeFlushDigest, now.Add(-time.Minute)))

	w := newTestWorker(q, 3)
	w.Register(jobqueue.TypeFlushDigest, func(context.Context, json.RawMessage) error {
		return errors.New("db unavailable")
	})

	w.poll(context.Background())

	require.Len(t, q.requeued, 1)
	assert.Equal(t, 1, q.requeued[0].Attempts)
	assert.True(t, q.requeued[0].RunAt.After(now.Add(29*time.Second)), "first retry backs off ~30s")
	assert.Empty(t, q.acked)
}

func TestJobDroppedAfterMaxAttempts(t *testing.T) {
	q := &memQueue{}
	job := mustJob(t, jobqueue.TypeFlushDigest, time.Now().Add(-time.Minute))
	job.Attempts = 2
	q.waiting = append(q.waiting, job)

	w := newTestWorker(q, 3)
	w.Register(jobqueue.TypeFlushDigest, func(context.Context, json.RawMessage) error {
		return errors.New("still failing")
	})

	w.poll(context.Background())

	assert.Empty(t, q.requeued)
	assert.Len(t, q.acked, 1, "exhausted job is acked away, not retried")
	assert.Empty(t, q.waiting)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := &memQueue{}
	w := New(q, Config{PollInterval: 10 * time.Millisecond}, logger.NewLogger(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
