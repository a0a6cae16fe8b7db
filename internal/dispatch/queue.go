package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChannelQueue is the in-process transport: a buffered channel drained by a
// fixed worker pool. Delayed messages are held by a timer and enter the
// channel when due.
type ChannelQueue struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Message
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
	timers map[*time.Timer]struct{}
}

type Option func(*ChannelQueue)

func WithWorkers(n int) Option {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.ch = make(chan Message, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ChannelQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewChannelQueue(logger *slog.Logger, opts ...Option) *ChannelQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ChannelQueue{
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Message, 256),
		timers:  make(map[*time.Timer]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *ChannelQueue) Start(_ context.Context, consume Consumer) {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for msg := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					consume(ctx, msg)
					cancel()
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ChannelQueue) Enqueue(_ context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		q.push(msg)
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", msg.JobID)
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.push(msg)
	})
	q.timers[t] = struct{}{}
	return nil
}

func (q *ChannelQueue) push(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", msg.JobID)
		return
	}
	select {
	case q.ch <- msg:
		q.logger.Info("queued job", "job_id", msg.JobID, "job_type", msg.JobType)
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", msg.JobID)
		q.ch <- msg
	}
}

func (q *ChannelQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
