package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, zaptest.NewLogger(t))
}

func TestEnqueueDequeueSettlement(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	payload := SettlementPayload{
		SessionID: uuid.New(),
		ClassID:   uuid.New(),
		Title:     "Fractions",
		EndedAt:   time.Now().UTC().Truncate(time.Second),
		Rows:      []SettlementRow{{ParticipantID: uuid.New(), StudentID: uuid.New(), QuestionsAnswered: 2, Credit: 5}},
	}
	require.NoError(t, q.EnqueueSettlement(ctx, payload))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeSettlement, job.Type)

	var got SettlementPayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestRetryMovesToDLQ(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	job := &Job{ID: "job-1", Type: JobTypeSettlement, Payload: json.RawMessage(`{}`)}

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		n, err := q.Len(ctx, QueueSettlements)
		require.NoError(t, err)
		assert.EqualValues(t, i, n)
	}
	require.NoError(t, q.Retry(ctx, job))
	n, err := q.Len(ctx, QueueDLQ)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, MaxRetries, job.Attempt)
}
