package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/common"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/export"
	"github.com/docforge/docforge/internal/jobs"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	ops        *jobs.Operations
	dispatcher *dispatch.Dispatcher
	exporter   *export.Service
	store      jobs.Store
}

// NewHandler constructs a Handler with the given dependencies.
func NewHandler(ops *jobs.Operations, dispatcher *dispatch.Dispatcher, exporter *export.Service, store jobs.Store) *Handler {
	return &Handler{ops: ops, dispatcher: dispatcher, exporter: exporter, store: store}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/export", h.ExportJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/result", h.GetJobResult)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// CreateRequest is the POST /api/v1/jobs body. ID is optional; supplying one
// makes the call idempotent across retries.
type CreateRequest struct {
	ID       string          `json:"id,omitempty"`
	JobType  string          `json:"job_type"`
	InputRef string          `json:"input_ref"`
	Options  json.RawMessage `json:"options,omitempty"`
}

// CreateJob handles POST /api/v1/jobs and responds 202 with the job.
// Re-submitting the same id returns the existing job without a second
// dispatch.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := uuid.Nil
	if req.ID != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "id must be a UUID")
			return
		}
		id = parsed
	}

	ctx := common.WithCaller(r.Context(), "api")
	j, err := h.ops.Create(ctx, id, constants.JobType(req.JobType), req.InputRef, req.Options)
	if err != nil {
		writeOpsError(w, err)
		return
	}

	// A pending job with no outstanding handle has never been dispatched.
	if j.Status == constants.JobStatusPending && j.DispatchHandle == nil {
		if _, err := h.dispatcher.Dispatch(ctx, j.ID, j.JobType, 0); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}
	}

	writeJSON(w, http.StatusAccepted, j)
}

// ListJobs handles GET /api/v1/jobs with optional status, limit and offset.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)

	status, ok := parseStatusParam(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	list, total, err := h.ops.List(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*entity.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	j, err := h.ops.Get(r.Context(), id)
	if err != nil {
		writeOpsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetJobResult handles GET /api/v1/jobs/{id}/result. The result is only
// readable once the job is terminal; before that the call conflicts.
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	j, err := h.ops.Get(r.Context(), id)
	if err != nil {
		writeOpsError(w, err)
		return
	}
	if !j.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "job is still "+string(j.Status))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
		"result": j.Result,
		"error":  j.Error,
	})
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel. Terminal jobs conflict; a
// processing job is marked cancelled and its in-flight result will be
// discarded by the worker.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	ctx := common.WithCaller(r.Context(), "api")
	j, err := h.ops.Transition(ctx, id, constants.JobStatusCancelled, jobs.TransitionPayload{})
	if err != nil {
		writeOpsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// ExportJobs handles GET /api/v1/jobs/export and streams an XLSX workbook.
func (h *Handler) ExportJobs(w http.ResponseWriter, r *http.Request) {
	status, ok := parseStatusParam(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	b, err := h.exporter.ExportJobsXLSX(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := "jobs-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(b) //nolint:errcheck
}

// Health handles GET /api/v1/health and reports storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseStatusParam(s string) (*constants.JobStatus, bool) {
	if s == "" {
		return nil, true
	}
	st := constants.JobStatus(s)
	if !constants.IsValidStatus(st) {
		return nil, false
	}
	return &st, true
}

func writeOpsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, jobs.ErrRetryExhausted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "job row is contended, retry")
	case errors.Is(err, common.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
