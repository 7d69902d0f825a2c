package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)
	id := uuid.New()
	require.NoError(t, q.Publish(context.Background(), id))

	msgs, err := q.Receive(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id.String(), msgs[0].Body)
	assert.NoError(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
}

func TestMemoryQueueReceiveBatches(t *testing.T) {
	q := NewMemoryQueue(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(context.Background(), uuid.New()))
	}
	msgs, err := q.Receive(context.Background(), 10, 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMemoryQueueReceiveCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Receive(ctx, 1, 0)
	assert.Error(t, err)
}
