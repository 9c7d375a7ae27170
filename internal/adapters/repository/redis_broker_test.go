package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/core/domain"
)

type brokerFixture struct {
	broker *RedisBroker
	mr     *miniredis.Miniredis
	clock  time.Time
}

func newBrokerFixture(t *testing.T, retention int) *brokerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &brokerFixture{mr: mr, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.broker = NewRedisBroker(client, "test", retention, zerolog.Nop())
	f.broker.now = func() time.Time { return f.clock }
	return f
}

func newJob(id, event string, priority int) *domain.WebhookJob {
	return &domain.WebhookJob{
		ID:          id,
		Type:        domain.JobTypeOrder,
		Event:       event,
		Data:        json.RawMessage(`{"orderNumber":"1"}`),
		Priority:    priority,
		MaxAttempts: 3,
	}
}

func TestRedisBroker_PriorityThenFIFO(t *testing.T) {
	f := newBrokerFixture(t, 100)
	ctx := context.Background()

	require.NoError(t, f.broker.Push(ctx, newJob("p1", "product.updated", 4)))
	require.NoError(t, f.broker.Push(ctx, newJob("o1", "order.created", 10)))
	require.NoError(t, f.broker.Push(ctx, newJob("p2", "product.deleted", 4)))
	require.NoError(t, f.broker.Push(ctx, newJob("o2", "order.updated", 9)))

	var order []string
	for {
		job, err := f.broker.Pop(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.ID)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, domain.JobActive, job.State)
	}
	assert.Equal(t, []string{"o1", "o2", "p1", "p2"}, order)

	stats, err := f.broker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Active: 4}, stats)
}

func TestRedisBroker_PopEmpty(t *testing.T) {
	f := newBrokerFixture(t, 100)

	job, err := f.broker.Pop(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestRedisBroker_RetryWaitsForDelay(t *testing.T) {
	f := newBrokerFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.broker.Push(ctx, newJob("j1", "order.created", 10)))

	job, err := f.broker.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, f.broker.Retry(ctx, job, 2*time.Second))

	stats, _ := f.broker.Stats(ctx)
	assert.Equal(t, int64(1), stats.Delayed)
	assert.Equal(t, int64(0), stats.Active)

	none, err := f.broker.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "delayed job must not be ready early")

	f.clock = f.clock.Add(2 * time.Second)
	again, err := f.broker.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "j1", again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestRedisBroker_FailRetainsAndRequeue(t *testing.T) {
	f := newBrokerFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.broker.Push(ctx, newJob("j1", "order.created", 10)))
	job, _ := f.broker.Pop(ctx)
	job.LastError = "boom"

	require.NoError(t, f.broker.Fail(ctx, job))

	failed, err := f.broker.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.JobFailed, failed[0].State)
	assert.Equal(t, "boom", failed[0].LastError)
	assert.NotNil(t, failed[0].FinishedAt)

	// failed jobs survive cleaning
	f.clock = f.clock.Add(48 * time.Hour)
	_, err = f.broker.Clean(ctx, 24*time.Hour)
	require.NoError(t, err)
	stats, _ := f.broker.Stats(ctx)
	assert.Equal(t, int64(1), stats.Failed)

	requeued, err := f.broker.Requeue(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 0, requeued.Attempts)
	stats, _ = f.broker.Stats(ctx)
	assert.Equal(t, domain.QueueStats{Waiting: 1}, stats)

	_, err = f.broker.Requeue(ctx, "j1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedisBroker_RequeueErrorKeepsJobFailed(t *testing.T) {
	f := newBrokerFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.broker.Push(ctx, newJob("j1", "order.created", 10)))
	job, err := f.broker.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, f.broker.Fail(ctx, job))

	// the arrival counter can no longer be incremented
	require.NoError(t, f.mr.Set("test:seq", "not-a-number"))

	_, err = f.broker.Requeue(ctx, "j1")
	require.Error(t, err)

	failed, err := f.broker.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "j1", failed[0].ID)
	assert.Equal(t, domain.JobFailed, failed[0].State)
	stats, _ := f.broker.Stats(ctx)
	assert.Equal(t, domain.QueueStats{Failed: 1}, stats)
}

func TestRedisBroker_CompletedRetentionAndClean(t *testing.T) {
	f := newBrokerFixture(t, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.broker.Push(ctx, newJob(id, "order.created", 10)))
		job, err := f.broker.Pop(ctx)
		require.NoError(t, err)
		require.NoError(t, f.broker.Complete(ctx, job))
	}

	stats, _ := f.broker.Stats(ctx)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Empty(t, f.mr.HGet("test:jobs", "a"), "trimmed job body removed")
	assert.NotEmpty(t, f.mr.HGet("test:jobs", "c"))

	f.clock = f.clock.Add(time.Hour)
	removed, err := f.broker.Clean(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	f.clock = f.clock.Add(24 * time.Hour)
	removed, err = f.broker.Clean(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	stats, _ = f.broker.Stats(ctx)
	assert.Equal(t, int64(0), stats.Completed)
}

func TestRedisBroker_RecoverActive(t *testing.T) {
	f := newBrokerFixture(t, 100)
	ctx := context.Background()
	require.NoError(t, f.broker.Push(ctx, newJob("j1", "customer.created", 8)))
	_, err := f.broker.Pop(ctx)
	require.NoError(t, err)

	n, err := f.broker.RecoverActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := f.broker.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
}

func TestWaitingScore(t *testing.T) {
	assert.Less(t, waitingScore(10, 500), waitingScore(4, 1))
	assert.Less(t, waitingScore(4, 1), waitingScore(4, 2))
	assert.Equal(t, waitingScore(maxPriority, 1), waitingScore(maxPriority+5, 1))
}
