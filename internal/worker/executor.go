package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/artifacts"
	"github.com/docforge/docforge/internal/common"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/engine"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/jobs"
)

// JobDispatcher re-enqueues jobs for retry.
type JobDispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID, jobType constants.JobType, delay time.Duration) (string, error)
}

// Executor consumes dispatched messages: it claims the job, runs the engine,
// and records the outcome. Every claim goes through the pending -> processing
// edge, so duplicate deliveries and cancelled jobs fall out as invalid
// transitions and are dropped without side effects.
type Executor struct {
	ops        *jobs.Operations
	registry   *engine.Registry
	dispatcher JobDispatcher
	artifacts  artifacts.Store
	backoff    Backoff
	log        *slog.Logger
}

func NewExecutor(ops *jobs.Operations, registry *engine.Registry, dispatcher JobDispatcher, store artifacts.Store, backoff Backoff, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ops:        ops,
		registry:   registry,
		dispatcher: dispatcher,
		artifacts:  store,
		backoff:    backoff,
		log:        logger,
	}
}

// Execute handles one delivery.
func (e *Executor) Execute(ctx context.Context, msg dispatch.Message) {
	ctx = common.WithCaller(ctx, "worker")

	job, err := e.ops.Transition(ctx, msg.JobID, constants.JobStatusProcessing, jobs.TransitionPayload{})
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			e.log.Debug("worker.claim.gone", "job_id", msg.JobID)
		case errors.Is(err, jobs.ErrInvalidTransition):
			// Duplicate delivery, or the job was cancelled before we got here.
			e.log.Debug("worker.claim.skipped", "job_id", msg.JobID, "error", err)
		case errors.Is(err, jobs.ErrLockTimeout):
			// Contention, not failure: put the message back and move on.
			e.log.Warn("worker.claim.lock_timeout", "job_id", msg.JobID)
			if _, dErr := e.dispatcher.Dispatch(ctx, msg.JobID, msg.JobType, e.backoff.Base); dErr != nil {
				e.log.Error("worker.requeue_failed", "job_id", msg.JobID, "error", dErr)
			}
		default:
			e.log.Error("worker.claim.failed", "job_id", msg.JobID, "error", err)
		}
		return
	}

	e.log.Info("worker.started", "job_id", job.ID, "job_type", job.JobType, "retry_count", job.RetryCount)

	eng, err := e.registry.Resolve(job.JobType)
	if err != nil {
		e.recordFailure(ctx, msg, err)
		return
	}

	res, err := eng.Run(ctx, job.InputRef, job.Options)
	if err != nil {
		e.recordFailure(ctx, msg, err)
		return
	}
	e.recordSuccess(ctx, msg, res)
}

func (e *Executor) recordSuccess(ctx context.Context, msg dispatch.Message, res *engine.Result) {
	raw, err := res.JSON()
	if err != nil {
		e.recordFailure(ctx, msg, engine.WrapError(engine.ClassPermanent, err, "encode result"))
		return
	}

	if _, err := e.ops.Transition(ctx, msg.JobID, constants.JobStatusCompleted, jobs.TransitionPayload{Result: raw}); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// Cancelled while running. The output artifact is orphaned.
			e.log.Info("worker.result_discarded", "job_id", msg.JobID)
			e.dropArtifact(ctx, res.OutputRef)
			return
		}
		e.log.Error("worker.complete_failed", "job_id", msg.JobID, "error", err)
		return
	}
	e.log.Info("worker.completed", "job_id", msg.JobID, "output_ref", res.OutputRef)
}

func (e *Executor) recordFailure(ctx context.Context, msg dispatch.Message, runErr error) {
	class := engine.Classify(runErr)
	jobErr := &entity.JobError{Message: runErr.Error(), Classification: string(class)}

	if class == engine.ClassResource {
		e.dropArtifact(ctx, engine.PartialRef(runErr))
	}

	job, err := e.ops.Transition(ctx, msg.JobID, constants.JobStatusFailed, jobs.TransitionPayload{
		Error:          jobErr,
		IncrementRetry: class == engine.ClassTransient,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			e.log.Info("worker.failure_discarded", "job_id", msg.JobID)
			return
		}
		e.log.Error("worker.fail_failed", "job_id", msg.JobID, "error", err)
		return
	}

	e.log.Warn("worker.failed",
		"job_id", msg.JobID,
		"classification", class,
		"retry_count", job.RetryCount,
		"error", runErr,
	)

	if class != engine.ClassTransient {
		return
	}
	if job.RetryCount >= e.ops.MaxRetries() {
		e.log.Warn("worker.retries_exhausted", "job_id", msg.JobID, "retry_count", job.RetryCount)
		return
	}

	if _, err := e.ops.Transition(ctx, msg.JobID, constants.JobStatusPending, jobs.TransitionPayload{}); err != nil {
		if !errors.Is(err, jobs.ErrInvalidTransition) && !errors.Is(err, jobs.ErrRetryExhausted) {
			e.log.Error("worker.requeue_transition_failed", "job_id", msg.JobID, "error", err)
		}
		return
	}

	delay := e.backoff.Delay(job.RetryCount)
	if _, err := e.dispatcher.Dispatch(ctx, msg.JobID, msg.JobType, delay); err != nil {
		e.log.Error("worker.requeue_failed", "job_id", msg.JobID, "error", err)
		return
	}
	e.log.Info("worker.retry_scheduled", "job_id", msg.JobID, "retry_count", job.RetryCount, "delay", delay)
}

func (e *Executor) dropArtifact(ctx context.Context, ref string) {
	if ref == "" || e.artifacts == nil {
		return
	}
	if _, err := e.artifacts.Delete(ctx, ref); err != nil {
		e.log.Warn("worker.artifact_cleanup_failed", "ref", ref, "error", err)
	}
}
