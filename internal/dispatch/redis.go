package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisQueueKey = "docforge:jobs:due"

// RedisQueue is the cross-process transport. Messages live in a Sorted Set
// scored by due time; a poll loop claims due members with ZRem so each
// message is delivered to exactly one consumer per claim.
type RedisQueue struct {
	client   *goredis.Client
	logger   *slog.Logger
	workers  int
	interval time.Duration
	timeout  time.Duration

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type RedisOption func(*RedisQueue)

func WithRedisWorkers(n int) RedisOption {
	return func(q *RedisQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithPollInterval(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.interval = d
		}
	}
}
func WithRedisProcessTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewRedisQueue(addr string, logger *slog.Logger, opts ...RedisOption) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RedisQueue{
		client:   goredis.NewClient(&goredis.Options{Addr: addr}),
		logger:   logger,
		workers:  4,
		interval: 500 * time.Millisecond,
		timeout:  10 * time.Minute,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dispatch/redis: marshal message: %w", err)
	}
	due := time.Now().Add(delay)
	err = q.client.ZAdd(ctx, redisQueueKey, goredis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(b),
	}).Err()
	if err != nil {
		return fmt.Errorf("dispatch/redis: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Start(ctx context.Context, consume Consumer) {
	q.once.Do(func() {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		q.cancel = cancel

		sem := make(chan struct{}, q.workers)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			ticker := time.NewTicker(q.interval)
			defer ticker.Stop()

			for {
				select {
				case <-pollCtx.Done():
					return
				case <-ticker.C:
				}
				q.drainDue(pollCtx, sem, consume)
			}
		}()
	})
}

// drainDue claims every message whose due time has passed. The ZRem result
// arbitrates between competing pollers.
func (q *RedisQueue) drainDue(ctx context.Context, sem chan struct{}, consume Consumer) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, redisQueueKey, &goredis.ZRangeBy{
		Min: "-inf", Max: now, Count: int64(q.workers),
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("dispatch.poll_failed", "error", err)
		}
		return
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, redisQueueKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			q.logger.Error("dispatch.bad_message", "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		q.wg.Add(1)
		go func(msg Message) {
			defer q.wg.Done()
			defer func() { <-sem }()
			runCtx, cancel := context.WithTimeout(context.Background(), q.timeout)
			defer cancel()
			consume(runCtx, msg)
		}(msg)
	}
}

func (q *RedisQueue) Shutdown(ctx context.Context) {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}

	if err := q.client.Close(); err != nil {
		q.logger.Warn("redis close failed", "error", err)
	}
}
