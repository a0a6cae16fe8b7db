package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/docforge/constants"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) consume(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) first() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[0]
}

func testMessage() Message {
	return Message{Handle: uuid.New().String(), JobID: uuid.New(), JobType: constants.JobTypeOCR}
}

func TestChannelQueueDelivers(t *testing.T) {
	q := NewChannelQueue(nil, WithWorkers(2), WithQueueSize(8))
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)
	defer q.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), testMessage(), 0))
	}

	require.Eventually(t, func() bool { return rec.count() == 5 },
		2*time.Second, 10*time.Millisecond)
}

func TestChannelQueueDelay(t *testing.T) {
	q := NewChannelQueue(nil, WithWorkers(1))
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), testMessage(), 60*time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count(), "message delivered before its delay elapsed")

	require.Eventually(t, func() bool { return rec.count() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestChannelQueueShutdownDrains(t *testing.T) {
	q := NewChannelQueue(nil, WithWorkers(1), WithQueueSize(16))
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), testMessage(), 0))
	}
	q.Shutdown(context.Background())

	assert.Equal(t, 10, rec.count())
}

func TestChannelQueueRejectsAfterShutdown(t *testing.T) {
	q := NewChannelQueue(nil, WithWorkers(1))
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)
	q.Shutdown(context.Background())

	// enqueue after shutdown is dropped, not delivered and not panicking
	require.NoError(t, q.Enqueue(context.Background(), testMessage(), 0))
	require.NoError(t, q.Enqueue(context.Background(), testMessage(), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestChannelQueuePendingTimerCancelledOnShutdown(t *testing.T) {
	q := NewChannelQueue(nil, WithWorkers(1))
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)

	require.NoError(t, q.Enqueue(context.Background(), testMessage(), 50*time.Millisecond))
	q.Shutdown(context.Background())

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, rec.count())
}
