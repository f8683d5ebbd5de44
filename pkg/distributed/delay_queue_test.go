package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayQueue_PromoteDue(t *testing.T) {
	client, queue := setupRedisQueue(t)
	delay := NewDelayQueue(client, "test_queue", queue)
	ctx := context.Background()

	now := time.Now()
	due := newTestMessage(t, "alice")
	later := newTestMessage(t, "bob")
	require.NoError(t, delay.Schedule(ctx, "timeout:r1:0", due, now.Add(-time.Second)))
	require.NoError(t, delay.Schedule(ctx, "timeout:r2:0", later, now.Add(time.Hour)))

	n, err := delay.PromoteDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := delay.Len(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, due.ID, got.ID)

	_, err = queue.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestDelayQueue_RescheduleReplaces(t *testing.T) {
	client, queue := setupRedisQueue(t)
	delay := NewDelayQueue(client, "test_queue", queue)
	ctx := context.Background()

	now := time.Now()
	first := newTestMessage(t, "alice")
	second := newTestMessage(t, "alice")
	require.NoError(t, delay.Schedule(ctx, "timeout:r1:0", first, now.Add(-time.Second)))
	require.NoError(t, delay.Schedule(ctx, "timeout:r1:0", second, now.Add(-time.Second)))

	n, err := delay.PromoteDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestDelayQueue_Remove(t *testing.T) {
	client, queue := setupRedisQueue(t)
	delay := NewDelayQueue(client, "test_queue", queue)
	ctx := context.Background()

	require.NoError(t, delay.Schedule(ctx, "timeout:r1:0", newTestMessage(t, "alice"), time.Now()))

	removed, err := delay.Remove(ctx, "timeout:r1:0")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = delay.Remove(ctx, "timeout:r1:0")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := delay.PromoteDue(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
