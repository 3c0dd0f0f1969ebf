package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jobrunner/cogforge/internal/domain"
)

const defaultRunLimit = 20

// handleHealth returns liveness status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns returns summaries of the most recent runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.recorder.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		response[i] = s.formatRun(run)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  response,
		"count": len(response),
	})
}

// handleRunResults returns the per-item results of one run.
func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	results, err := s.recorder.RunResults(r.Context(), runID)
	if err != nil {
		s.logger.Error("loading run results failed", "error", err, "run_id", runID)
		s.writeError(w, http.StatusInternalServerError, "Failed to load run results")
		return
	}
	if len(results) == 0 {
		s.writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	response := make([]map[string]interface{}, len(results))
	for i, res := range results {
		response[i] = s.formatResult(res)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  runID,
		"results": response,
	})
}

// formatRun formats a run summary for JSON output.
func (s *Server) formatRun(run domain.RunSummary) map[string]interface{} {
	categories := make(map[string]map[string]int, len(run.ByCategory))
	for cat, counts := range run.ByCategory {
		categories[string(cat)] = map[string]int{
			"succeeded": counts.Succeeded,
			"failed":    counts.Failed,
		}
	}

	return map[string]interface{}{
		"run_id":     run.RunID,
		"event":      run.Event,
		"total":      run.Total,
		"succeeded":  run.Succeeded,
		"failed":     run.Failed,
		"categories": categories,
		"started_at": run.StartedAt,
		"ended_at":   run.EndedAt,
	}
}

// formatResult formats one item result for JSON output.
func (s *Server) formatResult(res domain.UploadResult) map[string]interface{} {
	out := map[string]interface{}{
		"source":      res.Source,
		"category":    string(res.Category),
		"key":         res.Key,
		"outcome":     string(res.Outcome),
		"nodata":      res.Nodata,
		"duration_ms": res.Duration.Milliseconds(),
		"timestamp":   res.Timestamp,
	}
	if res.Outcome == domain.OutcomeFailed {
		out["error_kind"] = res.ErrorKind
		out["error"] = res.Error
	}
	return out
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
