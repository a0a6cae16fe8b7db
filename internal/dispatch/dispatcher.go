package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/jobs"
)

// Message is one unit of work on the transport. The transport guarantees
// at-least-once delivery; workers tolerate duplicates through the
// pending -> processing claim.
type Message struct {
	Handle  string            `json:"handle"`
	JobID   uuid.UUID         `json:"job_id"`
	JobType constants.JobType `json:"job_type"`
}

// Consumer handles one delivered message.
type Consumer func(ctx context.Context, msg Message)

// Transport moves messages from the dispatcher to workers.
type Transport interface {
	// Enqueue hands a message to the transport, to be delivered after the
	// given delay.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
	// Start begins delivering messages to consume until Shutdown.
	Start(ctx context.Context, consume Consumer)
	// Shutdown stops delivery, draining in-flight work until ctx expires.
	Shutdown(ctx context.Context)
}

// Dispatcher hands jobs to the transport and records the dispatch handle on
// the job row. It owns the transport concern end to end so Job Operations
// never has to.
type Dispatcher struct {
	transport Transport
	ops       *jobs.Operations
	log       *slog.Logger
}

func NewDispatcher(transport Transport, ops *jobs.Operations, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: transport, ops: ops, log: logger}
}

// Dispatch enqueues a message for the job and records the handle. The
// enqueue happens first: losing a handle record to a crash costs nothing
// (the handle is bookkeeping), whereas recording a handle for a message
// that was never sent would strand the job.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID uuid.UUID, jobType constants.JobType, delay time.Duration) (string, error) {
	handle := uuid.New().String()
	msg := Message{Handle: handle, JobID: jobID, JobType: jobType}

	if err := d.transport.Enqueue(ctx, msg, delay); err != nil {
		return "", err
	}

	if _, err := d.ops.ExecuteLocked(ctx, jobID, func(j *entity.Job) error {
		j.DispatchHandle = &handle
		return nil
	}); err != nil {
		// The message is already on the wire; a missing handle only degrades
		// observability.
		d.log.Warn("dispatch.handle_record_failed", "job_id", jobID, "handle", handle, "error", err)
	}

	d.log.Info("dispatch.enqueued", "job_id", jobID, "job_type", jobType, "handle", handle, "delay", delay)
	return handle, nil
}
