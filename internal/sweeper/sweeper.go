package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/artifacts"
	"github.com/docforge/docforge/internal/common"
	"github.com/docforge/docforge/internal/engine"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/jobs"
)

// Windows sets the per-status retention horizon. A zero window disables the
// sweep for that status.
type Windows struct {
	Completed  time.Duration
	Failed     time.Duration
	Cancelled  time.Duration
	Pending    time.Duration
	Processing time.Duration
}

func WindowsFromConfig(cfg common.RetentionConfig) Windows {
	return Windows{
		Completed:  cfg.CompletedWindow,
		Failed:     cfg.FailedWindow,
		Cancelled:  cfg.CancelledWindow,
		Pending:    cfg.PendingWindow,
		Processing: cfg.ProcessingWindow,
	}
}

// Sweeper enforces retention. Terminal jobs past their window are deleted
// along with their artifacts; pending and processing jobs past theirs were
// abandoned by a dead dispatcher or worker and are failed as reaped.
type Sweeper struct {
	ops       *jobs.Operations
	artifacts artifacts.Store
	windows   Windows
	batchSize int
	log       *slog.Logger

	cron *cron.Cron
}

func New(ops *jobs.Operations, store artifacts.Store, windows Windows, batchSize int, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		ops:       ops,
		artifacts: store,
		windows:   windows,
		batchSize: batchSize,
		log:       logger,
	}
}

// Schedule runs Sweep on the given cron spec until Stop.
func (s *Sweeper) Schedule(spec string) error {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.Info("sweeper.scheduled", "spec", spec)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep runs one full retention pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	ctx = common.WithCaller(ctx, "sweeper")
	now := time.Now().UTC()

	deleted := 0
	deleted += s.deleteExpired(ctx, constants.JobStatusCompleted, now.Add(-s.windows.Completed), s.windows.Completed)
	deleted += s.deleteExpired(ctx, constants.JobStatusFailed, now.Add(-s.windows.Failed), s.windows.Failed)
	deleted += s.deleteExpired(ctx, constants.JobStatusCancelled, now.Add(-s.windows.Cancelled), s.windows.Cancelled)

	reaped := 0
	reaped += s.reapStuck(ctx, constants.JobStatusPending, now.Add(-s.windows.Pending), s.windows.Pending)
	reaped += s.reapStuck(ctx, constants.JobStatusProcessing, now.Add(-s.windows.Processing), s.windows.Processing)

	s.log.Info("sweeper.pass", "deleted", deleted, "reaped", reaped)
}

func (s *Sweeper) deleteExpired(ctx context.Context, status constants.JobStatus, cutoff time.Time, window time.Duration) int {
	if window <= 0 {
		return 0
	}
	old, err := s.ops.ListOlderThan(ctx, status, cutoff, s.batchSize)
	if err != nil {
		s.log.Error("sweeper.scan_failed", "status", status, "error", err)
		return 0
	}

	n := 0
	for _, j := range old {
		s.dropArtifacts(ctx, j)
		ok, err := s.ops.Delete(ctx, j.ID)
		if err != nil {
			s.log.Error("sweeper.delete_failed", "job_id", j.ID, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// reapStuck fails jobs abandoned in a non-terminal status. A job that moved
// on between the scan and the transition surfaces as an invalid transition
// and is skipped.
func (s *Sweeper) reapStuck(ctx context.Context, status constants.JobStatus, cutoff time.Time, window time.Duration) int {
	if window <= 0 {
		return 0
	}
	stuck, err := s.ops.ListOlderThan(ctx, status, cutoff, s.batchSize)
	if err != nil {
		s.log.Error("sweeper.scan_failed", "status", status, "error", err)
		return 0
	}

	n := 0
	for _, j := range stuck {
		_, err := s.ops.Transition(ctx, j.ID, constants.JobStatusFailed, jobs.TransitionPayload{
			Error: &entity.JobError{
				Message:        "abandoned in " + string(status) + " past retention window",
				Classification: string(engine.ClassReaped),
			},
		})
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidTransition) || errors.Is(err, jobs.ErrNotFound) {
				continue
			}
			s.log.Error("sweeper.reap_failed", "job_id", j.ID, "error", err)
			continue
		}
		s.log.Warn("sweeper.reaped", "job_id", j.ID, "stuck_status", status)
		n++
	}
	return n
}

// dropArtifacts best-effort deletes the input and any recorded output before
// the row disappears.
func (s *Sweeper) dropArtifacts(ctx context.Context, j *entity.Job) {
	if s.artifacts == nil {
		return
	}
	refs := []string{j.InputRef, engine.OutputRef(j.Result)}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if _, err := s.artifacts.Delete(ctx, ref); err != nil {
			s.log.Warn("sweeper.artifact_delete_failed", "job_id", j.ID, "ref", ref, "error", err)
		}
	}
}
