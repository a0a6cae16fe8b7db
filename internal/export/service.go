package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/engine"
	"github.com/docforge/docforge/internal/jobs"
)

const pageSize = 500

// Service is a tiny façade over job operations that produces XLSX bytes for
// job-history exports.
type Service struct {
	ops    *jobs.Operations
	logger *slog.Logger
}

func NewService(ops *jobs.Operations, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ops: ops, logger: logger}
}

// ExportJobsXLSX returns an XLSX workbook (as bytes) with one row per job,
// optionally filtered by status.
func (s *Service) ExportJobsXLSX(ctx context.Context, status *constants.JobStatus) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const sheet = "Jobs"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		_, err := f.NewSheet(sheet)
		if err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Job ID",
		"Type",
		"Status",
		"Input",
		"Output",
		"Retries",
		"Error Class",
		"Error",
		"Created (UTC)",
		"Updated (UTC)",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	total := 0
	for offset := 0; ; offset += pageSize {
		page, _, err := s.ops.List(ctx, status, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("query jobs: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, j := range page {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(sheet, cell, v)
			}

			errClass, errMsg := "", ""
			if j.Error != nil {
				errClass = j.Error.Classification
				errMsg = j.Error.Message
			}

			write(1, j.ID.String())
			write(2, string(j.JobType))
			write(3, string(j.Status))
			write(4, j.InputRef)
			write(5, engine.OutputRef(j.Result))
			write(6, j.RetryCount)
			write(7, errClass)
			write(8, truncate(errMsg, 140))
			write(9, j.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
			write(10, j.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
			row++
		}
		total += len(page)
		if len(page) < pageSize {
			break
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // uuid
	_ = f.SetColWidth(sheet, "B", "C", 16)
	_ = f.SetColWidth(sheet, "D", "E", 50) // refs
	_ = f.SetColWidth(sheet, "F", "G", 12)
	_ = f.SetColWidth(sheet, "H", "H", 48) // error
	_ = f.SetColWidth(sheet, "I", "J", 20) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", total,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
