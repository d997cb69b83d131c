package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobMarshalsPayload(t *testing.T) {
	runAt := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)
	job, err := NewJob(TypeFlushDigest, map[string]string{"bucket_id": "b-1"}, runAt)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, TypeFlushDigest, job.Type)
	assert.Equal(t, runAt, job.RunAt)
	assert.Zero(t, job.Attempts)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "b-1", payload["bucket_id"])
}

func TestJobRoundTrip(t *testing.T) {
	job, err := NewJob(TypeSendSMS, map[string]string{"to": "+15551234567"}, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Type, decoded.Type)
	assert.JSONEq(t, string(job.Payload), string(decoded.Payload))
	assert.True(t, job.RunAt.Equal(decoded.RunAt))
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryBackoff(0))
	assert.Equal(t, time.Minute, RetryBackoff(1))
	assert.Equal(t, 2*time.Minute, RetryBackoff(2))
	assert.Equal(t, 10*time.Minute, RetryBackoff(20), "backoff is capped")
}
