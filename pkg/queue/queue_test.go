package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobAndDecode(t *testing.T) {
	job, err := NewJob(JobTypeNotification, map[string]string{"event": "session.approved"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 0, job.Attempt)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	got, err := Decode(string(raw))
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, JobTypeNotification, got.Type)
	assert.JSONEq(t, `{"event":"session.approved"}`, string(got.Payload))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not json")
	assert.Error(t, err)
}

func TestNewQueueDefaultsKey(t *testing.T) {
	assert.Equal(t, QueueNotifications, NewQueue(nil, "", nil).Key())
	assert.Equal(t, "custom", NewQueue(nil, "custom", nil).Key())
}
