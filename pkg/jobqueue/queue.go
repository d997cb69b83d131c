package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job types consumed by the flush worker.
const (
	TypeFlushDigest = "flush_digest"
	TypeSendSMS     = "send_sms"
)

// Job is a durable delayed unit of work. Delivery is at-least-once:
// consumers must be idempotent.
type Job struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	RunAt    time.Time       `json:"run_at"`
	Attempts int             `json:"attempts"`
}

// NewJob builds a job with a fresh ID and a marshalled payload.
func NewJob(jobType string, payload interface{}, runAt time.Time) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: raw,
		RunAt:   runAt.UTC(),
	}, nil
}

// Enqueuer is the narrow interface the digest engine depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Queue is a redis-backed delayed job queue. Jobs wait in a sorted set
// scored by run-at; a claim moves due members into a processing set with a
// visibility deadline, so a crashed worker's jobs come back after the
// deadline passes instead of being lost.
type Queue struct {
	client     *redis.Client
	key        string
	processing string
	visibility time.Duration
}

type Config struct {
	Key        string
	Visibility time.Duration
}

func New(client *redis.Client, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = "notify:jobs"
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = 2 * time.Minute
	}
	return &Queue{
		client:     client,
		key:        cfg.Key,
		processing: cfg.Key + ":processing",
		visibility: cfg.Visibility,
	}
}

var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('ZADD', KEYS[2], ARGV[3], member)
end
return due
`)

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	err = q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// ClaimDue atomically moves up to limit due jobs into the processing set
// and returns them alongside their raw members for acking.
func (q *Queue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	deadline := now.Add(q.visibility)
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.key, q.processing},
		strconv.FormatInt(now.Unix(), 10),
		strconv.Itoa(limit),
		strconv.FormatInt(deadline.Unix(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(res))
	for _, member := range res {
		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			// Poison member: drop it rather than wedging the queue.
			q.client.ZRem(ctx, q.processing, member)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ack removes a processed job from the processing set.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.ZRem(ctx, q.processing, member).Err()
}

// Requeue acks the job and schedules a fresh attempt at runAt.
func (q *Queue) Requeue(ctx context.Context, job Job, runAt time.Time) error {
	if err := q.Ack(ctx, job); err != nil {
		return err
	}
	job.Attempts++
	job.RunAt = runAt.UTC()
	return q.Enqueue(ctx, job)
}

// ReapExpired returns processing-set jobs whose visibility deadline has
// passed to the waiting set. Called from the worker poll loop.
func (q *Queue) ReapExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := q.client.ZRangeByScore(ctx, q.processing, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing set: %w", err)
	}

	reaped := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.processing, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.ZAdd(ctx, q.key, redis.Z{
			Score:  float64(now.Unix()),
			Member: member,
		}).Err(); err != nil {
			return reaped, fmt.Errorf("failed to requeue expired job: %w", err)
		}
		reaped++
	}
	return reaped, nil
}

// RetryBackoff computes the delay before attempt n (0-based) is retried.
func RetryBackoff(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 0; i < attempts && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}
