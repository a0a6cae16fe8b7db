package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/jobs"
)

func TestExportJobsXLSX(t *testing.T) {
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ops := jobs.NewOperations(store, nil, 3)
	ctx := context.Background()

	j, err := ops.Create(ctx, uuid.Nil, constants.JobTypeCompress, "/tmp/in.pdf", nil)
	require.NoError(t, err)
	_, err = ops.Transition(ctx, j.ID, constants.JobStatusProcessing, jobs.TransitionPayload{})
	require.NoError(t, err)
	_, err = ops.Transition(ctx, j.ID, constants.JobStatusCompleted, jobs.TransitionPayload{
		Result: json.RawMessage(`{"output_ref":"/tmp/out.pdf","ratio":0.4}`),
	})
	require.NoError(t, err)

	failed, err := ops.Create(ctx, uuid.Nil, constants.JobTypeOCR, "/tmp/scan.png", nil)
	require.NoError(t, err)
	_, err = ops.Transition(ctx, failed.ID, constants.JobStatusFailed, jobs.TransitionPayload{
		Error: &entity.JobError{Message: "tesseract exited 1", Classification: "permanent"},
	})
	require.NoError(t, err)

	b, err := NewService(ops, nil).ExportJobsXLSX(ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per job")
	assert.Equal(t, "Job ID", rows[0][0])

	ids := []string{rows[1][0], rows[2][0]}
	assert.Contains(t, ids, j.ID.String())
	assert.Contains(t, ids, failed.ID.String())
}

func TestExportJobsXLSXStatusFilter(t *testing.T) {
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), 5*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ops := jobs.NewOperations(store, nil, 3)
	ctx := context.Background()

	_, err = ops.Create(ctx, uuid.Nil, constants.JobTypeOCR, "/tmp/a.pdf", nil)
	require.NoError(t, err)
	cancelled, err := ops.Create(ctx, uuid.Nil, constants.JobTypeOCR, "/tmp/b.pdf", nil)
	require.NoError(t, err)
	_, err = ops.Transition(ctx, cancelled.ID, constants.JobStatusCancelled, jobs.TransitionPayload{})
	require.NoError(t, err)

	status := constants.JobStatusCancelled
	b, err := NewService(ops, nil).ExportJobsXLSX(ctx, &status)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Jobs")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, cancelled.ID.String(), rows[1][0])
	assert.Equal(t, "cancelled", rows[1][2])
}
