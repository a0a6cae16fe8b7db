package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/common"
	"github.com/docforge/docforge/internal/entity"
)

// TransitionPayload carries the field updates a transition may apply.
type TransitionPayload struct {
	// Result is required when transitioning into completed.
	Result json.RawMessage
	// Error is required when transitioning into failed.
	Error *entity.JobError
	// IncrementRetry bumps retry_count by one; used by the worker when it
	// requeues after a transient failure.
	IncrementRetry bool
	// DispatchHandle, when non-nil, records the outstanding transport
	// message. Terminal transitions clear the handle regardless.
	DispatchHandle *string
}

// Operations is the only sanctioned mutator of job rows. Every
// read-modify-write goes through the store's locked transaction, with the
// transition graph enforced before any field changes.
type Operations struct {
	store      Store
	log        *slog.Logger
	maxRetries int
}

// NewOperations wires job operations over a store. maxRetries bounds
// retry_count; a failed -> pending retry past the bound is rejected with
// ErrRetryExhausted.
func NewOperations(store Store, logger *slog.Logger, maxRetries int) *Operations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operations{store: store, log: logger, maxRetries: maxRetries}
}

// Create inserts a new job in pending state. Creation is idempotent: if a
// row with the same id already exists, the existing row is returned
// unchanged, and two concurrent callers with the same id end up with exactly
// one row.
func (o *Operations) Create(ctx context.Context, id uuid.UUID, jobType constants.JobType, inputRef string, options json.RawMessage) (*entity.Job, error) {
	if !constants.IsValidJobType(jobType) {
		return nil, fmt.Errorf("%w: unknown job type %q", common.ErrInvalidInput, jobType)
	}
	if inputRef == "" {
		return nil, fmt.Errorf("%w: input_ref is required", common.ErrInvalidInput)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	now := time.Now().UTC()
	j := &entity.Job{
		ID:        id,
		JobType:   jobType,
		Status:    constants.JobStatusPending,
		InputRef:  inputRef,
		Options:   options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	stored, created, err := o.store.CreateIfAbsent(ctx, j)
	if err != nil {
		return nil, err
	}
	if created {
		o.log.Info("jobs.created",
			"job_id", stored.ID,
			"job_type", stored.JobType,
			"caller", common.CallerFromContext(ctx),
		)
	} else {
		o.log.Debug("jobs.create.exists", "job_id", stored.ID)
	}
	return stored, nil
}

// Transition moves the job along one edge of the status graph, applying the
// payload atomically under the row lock. Disallowed edges roll back with
// ErrInvalidTransition and leave the row untouched.
func (o *Operations) Transition(ctx context.Context, id uuid.UUID, target constants.JobStatus, p TransitionPayload) (*entity.Job, error) {
	var from constants.JobStatus
	j, err := o.store.Mutate(ctx, id, func(j *entity.Job) error {
		from = j.Status
		if !CanTransition(from, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
		}
		if target == constants.JobStatusPending && j.RetryCount >= o.maxRetries {
			return fmt.Errorf("%w: retry_count=%d max=%d", ErrRetryExhausted, j.RetryCount, o.maxRetries)
		}
		return o.apply(j, target, p)
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("jobs.transition",
		"job_id", id,
		"from_status", from,
		"to_status", target,
		"caller", common.CallerFromContext(ctx),
	)
	return j, nil
}

// apply mutates j for an already-validated edge into target. Exactly one of
// result/error is populated once the job is terminal.
func (o *Operations) apply(j *entity.Job, target constants.JobStatus, p TransitionPayload) error {
	switch target {
	case constants.JobStatusCompleted:
		if len(p.Result) == 0 {
			return fmt.Errorf("%w: completed transition requires a result", common.ErrInvalidInput)
		}
		j.Result = p.Result
		j.Error = nil
	case constants.JobStatusFailed:
		if p.Error == nil {
			return fmt.Errorf("%w: failed transition requires an error", common.ErrInvalidInput)
		}
		j.Error = p.Error
		j.Result = nil
		if p.IncrementRetry {
			j.RetryCount++
		}
	case constants.JobStatusPending:
		// Retry: the previous failure detail no longer describes the row.
		j.Error = nil
	case constants.JobStatusProcessing, constants.JobStatusCancelled:
		// Status change only.
	}

	if p.DispatchHandle != nil {
		j.DispatchHandle = p.DispatchHandle
	}
	if target.IsTerminal() {
		j.DispatchHandle = nil
	}
	j.Status = target
	return nil
}

// GetStatus is an unlocked status read.
func (o *Operations) GetStatus(ctx context.Context, id uuid.UUID) (constants.JobStatus, error) {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return j.Status, nil
}

// Get is an unlocked full-row read.
func (o *Operations) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return o.store.Get(ctx, id)
}

// List returns a page of jobs, optionally filtered by status.
func (o *Operations) List(ctx context.Context, status *constants.JobStatus, limit, offset int) ([]*entity.Job, int, error) {
	return o.store.List(ctx, status, limit, offset)
}

// ListOlderThan exposes the sweep scan.
func (o *Operations) ListOlderThan(ctx context.Context, status constants.JobStatus, cutoff time.Time, limit int) ([]*entity.Job, error) {
	return o.store.ListOlderThan(ctx, status, cutoff, limit)
}

// ExecuteLocked runs fn against the job under the row lock and persists
// whatever mutations fn performs. For compound updates that do not fit the
// fixed transition vocabulary (progress counters, dispatch bookkeeping).
// fn must not change the status field; that is what Transition is for.
func (o *Operations) ExecuteLocked(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	j, err := o.store.Mutate(ctx, id, func(j *entity.Job) error {
		before := j.Status
		if err := fn(j); err != nil {
			return err
		}
		if j.Status != before {
			return fmt.Errorf("%w: ExecuteLocked must not change status (%s -> %s)", ErrInvalidTransition, before, j.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Debug("jobs.execute_locked", "job_id", id, "caller", common.CallerFromContext(ctx))
	return j, nil
}

// Delete hard-deletes a job row. Only the retention sweeper calls this.
func (o *Operations) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted, err := o.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		o.log.Info("jobs.deleted", "job_id", id, "caller", common.CallerFromContext(ctx))
	}
	return deleted, nil
}

// MaxRetries exposes the configured retry bound.
func (o *Operations) MaxRetries() int {
	return o.maxRetries
}
