package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jobrunner/cogforge/internal/config"
	"github.com/jobrunner/cogforge/internal/domain"
)

// mockRecorder implements output.RunRecorder for testing.
type mockRecorder struct {
	runs       []domain.RunSummary
	results    []domain.UploadResult
	runsErr    error
	resultsErr error
}

func (m *mockRecorder) RecordRun(_ context.Context, _ *domain.BatchRun) error { return nil }

func (m *mockRecorder) RecentRuns(_ context.Context, limit int) ([]domain.RunSummary, error) {
	if m.runsErr != nil {
		return nil, m.runsErr
	}
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

func (m *mockRecorder) RunResults(_ context.Context, _ string) ([]domain.UploadResult, error) {
	if m.resultsErr != nil {
		return nil, m.resultsErr
	}
	return m.results, nil
}

func newTestServer(recorder *mockRecorder) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return NewServer(
		config.ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		recorder,
		logger,
	)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&mockRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want %q", resp["status"], "ok")
	}
}

func TestHandleListRuns(t *testing.T) {
	recorder := &mockRecorder{
		runs: []domain.RunSummary{
			{
				RunID:     "run-2",
				Event:     "202405_Flood_TX",
				Total:     11,
				Succeeded: 10,
				Failed:    1,
				ByCategory: map[domain.Category]domain.CategoryCounts{
					domain.CategoryRGB: {Succeeded: 3},
				},
				StartedAt: time.Now().UTC().Add(-time.Hour),
				EndedAt:   time.Now().UTC(),
			},
			{RunID: "run-1", Event: "202405_Flood_TX", Total: 4, Succeeded: 4},
		},
	}
	srv := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Runs []map[string]interface{} `json:"runs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if len(resp.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(resp.Runs))
	}
	if resp.Runs[0]["run_id"] != "run-2" {
		t.Errorf("first run = %v, want %q", resp.Runs[0]["run_id"], "run-2")
	}
	if resp.Runs[0]["succeeded"] != float64(10) {
		t.Errorf("succeeded = %v, want 10", resp.Runs[0]["succeeded"])
	}
}

func TestHandleListRunsLimit(t *testing.T) {
	recorder := &mockRecorder{
		runs: []domain.RunSummary{{RunID: "run-3"}, {RunID: "run-2"}, {RunID: "run-1"}},
	}
	srv := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=1", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
}

func TestHandleListRunsBadLimit(t *testing.T) {
	srv := newTestServer(&mockRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=zero", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleListRunsStoreError(t *testing.T) {
	srv := newTestServer(&mockRecorder{runsErr: errors.New("db locked")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestHandleRunResults(t *testing.T) {
	recorder := &mockRecorder{
		results: []domain.UploadResult{
			{
				Source:    "s1a_rgb.tif",
				Category:  domain.CategoryRGB,
				Key:       "drcs_activations_new/Sentinel-1/rgb/x_rgb.tif",
				Outcome:   domain.OutcomeSucceeded,
				Nodata:    0,
				Duration:  1500 * time.Millisecond,
				Timestamp: time.Now().UTC(),
			},
			{
				Source:    "bad.tif",
				Category:  domain.CategoryWaterMask,
				Outcome:   domain.OutcomeFailed,
				ErrorKind: "invalid_cog",
				Error:     "missing overviews",
			},
		},
	}
	srv := newTestServer(recorder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/results", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		RunID   string                   `json:"run_id"`
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if resp.RunID != "run-1" {
		t.Errorf("run_id = %q, want %q", resp.RunID, "run-1")
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if _, ok := resp.Results[0]["error"]; ok {
		t.Error("succeeded result should not carry an error field")
	}
	if resp.Results[1]["error_kind"] != "invalid_cog" {
		t.Errorf("error_kind = %v, want %q", resp.Results[1]["error_kind"], "invalid_cog")
	}
}

func TestHandleRunResultsNotFound(t *testing.T) {
	srv := newTestServer(&mockRecorder{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing/results", nil)
	rr := httptest.NewRecorder()

	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
