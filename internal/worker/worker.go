// Package worker runs the scheduled delivery loop: it claims due jobs
// from the queue and dispatches them to the digest and SMS handlers.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/textback/notify-api/pkg/jobqueue"
	"github.com/textback/notify-api/pkg/logger"
	"github.com/textback/notify-api/pkg/metrics"
)

// Handler processes one job payload. A returned error makes the job
// eligible for a retry with backoff.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// jobQueue is the slice of the queue the worker needs.
type jobQueue interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]jobqueue.Job, error)
	Ack(ctx context.Context, job jobqueue.Job) error
	Requeue(ctx context.Context, job jobqueue.Job, runAt time.Time) error
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

type Worker struct {
	queue    jobQueue
	handlers map[string]Handler
	cfg      Config
	logger   *logger.Logger
	metrics  *metrics.Metrics

	nowFn func() time.Time
}

func New(queue jobQueue, cfg Config, log *logger.Logger, m *metrics.Metrics) *Worker {
	cfg.applyDefaults()
	return &Worker{
		queue:    queue,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		logger:   log,
		metrics:  m,
		nowFn:    time.Now,
	}
}

// Register binds a handler to a job type. Jobs with no handler are
// dropped with an error log; re-registering replaces the handler.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run polls until the context is cancelled. Delivery is at least once:
// a crash mid-handler leaves the job in the processing set, and the reap
// pass returns it to the waiting set once its visibility deadline lapses.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval.String(),
		"batch_size", w.cfg.BatchSize)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	now := w.nowFn()

	reaped, err := w.queue.ReapExpired(ctx, now)
	if err != nil {
		w.logger.Error(err, "failed to reap expired jobs")
	} else if reaped > 0 {
		w.logger.Warn("requeued expired jobs", "count", reaped)
	}

	jobs, err := w.queue.ClaimDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error(err, "failed to claim due jobs")
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job jobqueue.Job) {
	start := w.nowFn()
	err := w.handle(ctx, job)

	status := "ok"
	switch {
	case err == nil:
		if ackErr := w.queue.Ack(ctx, job); ackErr != nil {
			w.logger.Error(ackErr, "failed to ack job", "job_id", job.ID, "job_type", job.Type)
		}
	case job.Attempts+1 >= w.cfg.MaxAttempts:
		status = "dropped"
		w.logger.Error(err, "job exhausted retries, dropping",
			"job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts+1)
		if ackErr := w.queue.Ack(ctx, job); ackErr != nil {
			w.logger.Error(ackErr, "failed to ack dropped job", "job_id", job.ID)
		}
	default:
		status = "retried"
		runAt := w.nowFn().Add(jobqueue.RetryBackoff(job.Attempts))
		w.logger.Warn("job failed, scheduling retry",
			"job_id", job.ID, "job_type", job.Type,
			"attempts", job.Attempts+1, "retry_at", runAt.Format(time.RFC3339), "error", err.Error())
		if reqErr := w.queue.Requeue(ctx, job, runAt); reqErr != nil {
			w.logger.Error(reqErr, "failed to requeue job", "job_id", job.ID)
		}
	}

	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(job.Type, status).Inc()
		w.metrics.JobLatency.Observe(time.Since(start).Seconds())
	}
}

func (w *Worker) handle(ctx context.Context, job jobqueue.Job) error {
	h, ok := w.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	return h(ctx, job.Payload)
}
