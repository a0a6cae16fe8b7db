package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/entity"
	"github.com/docforge/docforge/internal/export"
	"github.com/docforge/docforge/internal/jobs"
)

func newTestServer(t *testing.T) (*httptest.Server, *jobs.Operations) {
	t.Helper()
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), 5*time.Second, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ops := jobs.NewOperations(store, nil, 3)
	queue := dispatch.NewChannelQueue(nil, dispatch.WithQueueSize(64))
	t.Cleanup(func() { queue.Shutdown(context.Background()) })
	dispatcher := dispatch.NewDispatcher(queue, ops, nil)
	exporter := export.NewService(ops, nil)

	mux := http.NewServeMux()
	NewHandler(ops, dispatcher, exporter, store).RegisterRoutes(mux)
	srv := httptest.NewServer(RequestIDMiddleware(mux))
	t.Cleanup(srv.Close)
	return srv, ops
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeJob(t *testing.T, resp *http.Response) *entity.Job {
	t.Helper()
	defer resp.Body.Close()
	var j entity.Job
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return &j
}

func TestCreateJobEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/jobs", map[string]any{
		"job_type":  "compress",
		"input_ref": "/tmp/in.pdf",
		"options":   map[string]any{"preset": "ebook"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	j := decodeJob(t, resp)
	if j.Status != constants.JobStatusPending {
		t.Errorf("status = %s, want pending", j.Status)
	}
	if j.ID == uuid.Nil {
		t.Error("server must assign an id")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestCreateJobValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown job type", map[string]any{"job_type": "frobnicate", "input_ref": "/tmp/in.pdf"}},
		{"missing input_ref", map[string]any{"job_type": "ocr"}},
		{"bad id", map[string]any{"id": "not-a-uuid", "job_type": "ocr", "input_ref": "/tmp/in.pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/jobs", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateJobIdempotentNoDoubleDispatch(t *testing.T) {
	srv, ops := newTestServer(t)
	id := uuid.New()
	body := map[string]any{"id": id.String(), "job_type": "ocr", "input_ref": "/tmp/in.pdf"}

	resp := postJSON(t, srv.URL+"/api/v1/jobs", body)
	resp.Body.Close()
	first, err := ops.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.DispatchHandle == nil {
		t.Fatal("first create must dispatch and record a handle")
	}

	resp = postJSON(t, srv.URL+"/api/v1/jobs", body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("duplicate create status = %d, want 202", resp.StatusCode)
	}
	resp.Body.Close()

	second, _ := ops.Get(context.Background(), id)
	if *second.DispatchHandle != *first.DispatchHandle {
		t.Error("duplicate create must not re-dispatch")
	}
}

func TestGetJobEndpoint(t *testing.T) {
	srv, ops := newTestServer(t)

	j, err := ops.Create(context.Background(), uuid.Nil, constants.JobTypeOCR, "/tmp/in.pdf", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + j.ID.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.ID != j.ID {
		t.Errorf("id = %s, want %s", got.ID, j.ID)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + uuid.NewString())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", resp.StatusCode)
	}
}

func TestGetJobResultEndpoint(t *testing.T) {
	srv, ops := newTestServer(t)
	ctx := context.Background()

	j, _ := ops.Create(ctx, uuid.Nil, constants.JobTypeCompress, "/tmp/in.pdf", nil)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + j.ID.String() + "/result")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("non-terminal result status = %d, want 409", resp.StatusCode)
	}

	if _, err := ops.Transition(ctx, j.ID, constants.JobStatusProcessing, jobs.TransitionPayload{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := ops.Transition(ctx, j.ID, constants.JobStatusCompleted, jobs.TransitionPayload{
		Result: json.RawMessage(`{"output_ref":"/tmp/out.pdf","ratio":0.4}`),
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + j.ID.String() + "/result")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("terminal result status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "completed" || !strings.Contains(string(out.Result), "output_ref") {
		t.Errorf("unexpected result payload: %+v", out)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	srv, ops := newTestServer(t)

	j, _ := ops.Create(context.Background(), uuid.Nil, constants.JobTypeOCR, "/tmp/in.pdf", nil)

	resp := postJSON(t, srv.URL+"/api/v1/jobs/"+j.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	got := decodeJob(t, resp)
	if got.Status != constants.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	resp = postJSON(t, srv.URL+"/api/v1/jobs/"+j.ID.String()+"/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp.StatusCode)
	}
}

func TestListJobsEndpoint(t *testing.T) {
	srv, ops := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ops.Create(ctx, uuid.Nil, constants.JobTypeOCR, fmt.Sprintf("/tmp/in-%d.pdf", i), nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs?status=pending&limit=2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Jobs  []*entity.Job `json:"jobs"`
		Total int           `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 3 || len(out.Jobs) != 2 {
		t.Errorf("total=%d page=%d, want total 3 page 2", out.Total, len(out.Jobs))
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs?status=bogus")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", resp.StatusCode)
	}
}

func TestExportJobsEndpoint(t *testing.T) {
	srv, ops := newTestServer(t)

	if _, err := ops.Create(context.Background(), uuid.Nil, constants.JobTypeOCR, "/tmp/in.pdf", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/jobs/export")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q, want xlsx", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".xlsx") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %q, want ok", out["status"])
	}
}
