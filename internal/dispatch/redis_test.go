package dispatch

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Integration tests against a real Redis. Set TEST_REDIS_ADDR to run:
//
//	TEST_REDIS_ADDR=localhost:6379 go test ./internal/dispatch/
func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis integration tests")
	}

	// start from an empty queue
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	require.NoError(t, c.Del(context.Background(), redisQueueKey).Err())
	require.NoError(t, c.Close())

	return NewRedisQueue(addr, nil,
		WithRedisWorkers(2),
		WithPollInterval(20*time.Millisecond),
	)
}

func TestRedisQueueDelivers(t *testing.T) {
	q := newRedisQueue(t)
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)
	defer q.Shutdown(context.Background())

	msg := testMessage()
	require.NoError(t, q.Enqueue(context.Background(), msg, 0))

	require.Eventually(t, func() bool { return rec.count() == 1 },
		5*time.Second, 20*time.Millisecond)
	require.Equal(t, msg.JobID, rec.first().JobID)
}

func TestRedisQueueHonorsDelay(t *testing.T) {
	q := newRedisQueue(t)
	rec := &recorder{}
	q.Start(context.Background(), rec.consume)
	defer q.Shutdown(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), testMessage(), 300*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, rec.count(), "message delivered before its due time")

	require.Eventually(t, func() bool { return rec.count() == 1 },
		5*time.Second, 20*time.Millisecond)
}
