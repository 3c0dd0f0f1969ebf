package application

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
)

func exportTestRun() *domain.BatchRun {
	run := domain.NewBatchRun("202405_Flood_TX-20240531T120000-abcd1234", "202405_Flood_TX")
	run.Append(domain.UploadResult{
		Source:    "s1a_iw_20240430T002653_rgb.tif",
		Category:  domain.CategoryRGB,
		Key:       "drcs_activations_new/Sentinel-1/rgb/202405_Flood_TX_S1A_20240430T002653_rgb.tif",
		Outcome:   domain.OutcomeSucceeded,
		Nodata:    0,
		Duration:  1200 * time.Millisecond,
		Timestamp: time.Now().UTC(),
	})
	run.Append(domain.UploadResult{
		Source:    "bad_scene_wm.tif",
		Category:  domain.CategoryWaterMask,
		Outcome:   domain.OutcomeFailed,
		ErrorKind: "source_read",
		Error:     "truncated header",
		Timestamp: time.Now().UTC(),
	})
	run.Finalize()
	return run
}

func TestExportWritesAuditArtifacts(t *testing.T) {
	store := newSpyStore()
	outDir := t.TempDir()
	exporter := NewExporter(store, "drcs_activations_new", outDir, testLogger())

	run := exportTestRun()
	if err := exporter.Export(context.Background(), run); err != nil {
		t.Fatalf("Export() error: %v", err)
	}

	// CSV: header plus one row per result.
	csvPath := filepath.Join(outDir, run.ID, "files_converted.csv")
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("opening csv: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header + 2", len(rows))
	}
	if rows[1][3] != "succeeded" || rows[2][3] != "failed" {
		t.Errorf("outcome columns = %q, %q", rows[1][3], rows[2][3])
	}
	if rows[2][4] != "source_read" {
		t.Errorf("error_kind = %q, want source_read", rows[2][4])
	}

	// metadata.json carries the summary counts.
	metaPath := filepath.Join(outDir, run.ID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	var meta struct {
		Attempted int `json:"attempted"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parsing metadata: %v", err)
	}
	if meta.Attempted != 2 || meta.Succeeded != 1 || meta.Failed != 1 {
		t.Errorf("metadata counts = %d/%d/%d, want 2/1/1", meta.Attempted, meta.Succeeded, meta.Failed)
	}

	// Both artifacts uploaded under the run's report prefix.
	wantKeys := map[string]bool{
		"drcs_activations_new/reports/" + run.ID + "/files_converted.csv": true,
		"drcs_activations_new/reports/" + run.ID + "/metadata.json":       true,
	}
	for _, key := range store.keys() {
		delete(wantKeys, key)
	}
	if len(wantKeys) != 0 {
		t.Errorf("missing uploaded report keys: %v", wantKeys)
	}
}

func TestExportEmptyRunStillProducesSummary(t *testing.T) {
	store := newSpyStore()
	exporter := NewExporter(store, "", t.TempDir(), testLogger())

	run := domain.NewBatchRun("empty-run", "202405_Flood_TX")
	run.Finalize()

	if err := exporter.Export(context.Background(), run); err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if got := len(store.keys()); got != 2 {
		t.Errorf("uploaded artifacts = %d, want 2", got)
	}
}
