package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/entity"
)

// Job-core sentinel errors.
var (
	// ErrNotFound means the job id is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition means the requested status edge is not in the
	// transition graph. It signals a race or a programming error, never a
	// user-facing failure.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrLockTimeout means the row lock could not be acquired in time.
	// Callers treat it as transient.
	ErrLockTimeout = errors.New("row lock wait timed out")
	// ErrRetryExhausted means a failed -> pending retry was requested after
	// the retry budget was spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// Store persists job rows. Implementations must provide row-level exclusivity
// for Mutate: while one caller's mutation function runs, no other caller may
// mutate the same row.
type Store interface {
	// CreateIfAbsent inserts j unless a row with the same id exists.
	// It returns the stored row and whether an insert happened. Two
	// concurrent calls with the same id yield exactly one row.
	CreateIfAbsent(ctx context.Context, j *entity.Job) (*entity.Job, bool, error)

	// Get is an unlocked read. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)

	// Mutate loads the row under an exclusive transaction-scoped lock,
	// applies fn to it, and persists the changes. If fn returns an error the
	// transaction rolls back and no field update is visible. Lock waits past
	// the configured timeout return ErrLockTimeout.
	Mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error)

	// Delete hard-deletes the row. Returns false when the id was unknown.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)

	// List returns a page of jobs ordered by created_at DESC, optionally
	// filtered by status, plus the total count for the filter.
	List(ctx context.Context, status *constants.JobStatus, limit, offset int) ([]*entity.Job, int, error)

	// ListOlderThan returns up to limit jobs in the given status whose
	// updated_at is before the cutoff, oldest first.
	ListOlderThan(ctx context.Context, status constants.JobStatus, cutoff time.Time, limit int) ([]*entity.Job, error)

	// Ping checks connectivity to the backing database.
	Ping(ctx context.Context) error

	Close() error
}
