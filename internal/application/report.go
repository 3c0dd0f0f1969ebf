package application

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// Exporter writes the per-run audit artifacts: files_converted.csv with
// one row per item result, and metadata.json with the run summary. Both
// are kept locally and uploaded next to the run's objects.
type Exporter struct {
	store      output.ObjectStore
	rootPrefix string
	outDir     string
	logger     *slog.Logger
}

// NewExporter creates an exporter writing local copies under outDir.
func NewExporter(store output.ObjectStore, rootPrefix, outDir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		store:      store,
		rootPrefix: rootPrefix,
		outDir:     outDir,
		logger:     logger,
	}
}

// Export writes and uploads both artifacts for a finalized run. The
// export itself is best-effort per file but reports the first failure.
func (e *Exporter) Export(ctx context.Context, run *domain.BatchRun) error {
	dir := filepath.Join(e.outDir, run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating export dir: %v", domain.ErrResource, err)
	}

	csvPath := filepath.Join(dir, "files_converted.csv")
	if err := e.writeCSV(run, csvPath); err != nil {
		return err
	}

	metaPath := filepath.Join(dir, "metadata.json")
	if err := e.writeMetadata(run, metaPath); err != nil {
		return err
	}

	if err := e.uploadFile(ctx, csvPath, e.reportKey(run, "files_converted.csv")); err != nil {
		return err
	}
	if err := e.uploadFile(ctx, metaPath, e.reportKey(run, "metadata.json")); err != nil {
		return err
	}

	e.logger.Info("run export written", "run_id", run.ID, "dir", dir)
	return nil
}

// reportKey places report artifacts under a reports/ prefix per run.
func (e *Exporter) reportKey(run *domain.BatchRun, name string) string {
	key := fmt.Sprintf("reports/%s/%s", run.ID, name)
	if e.rootPrefix != "" {
		key = e.rootPrefix + "/" + key
	}
	return key
}

// writeCSV writes one row per upload result.
func (e *Exporter) writeCSV(run *domain.BatchRun, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", domain.ErrResource, path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"source", "category", "destination_key", "outcome",
		"error_kind", "error", "nodata", "duration_ms", "timestamp",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: writing csv header: %v", domain.ErrResource, err)
	}

	for _, res := range run.Results() {
		row := []string{
			res.Source,
			string(res.Category),
			res.Key,
			string(res.Outcome),
			res.ErrorKind,
			res.Error,
			strconv.FormatFloat(res.Nodata, 'f', -1, 64),
			strconv.FormatInt(res.Duration.Milliseconds(), 10),
			res.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: writing csv row: %v", domain.ErrResource, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flushing csv: %v", domain.ErrResource, err)
	}
	return nil
}

// runMetadata is the metadata.json document shape.
type runMetadata struct {
	RunID      string                    `json:"run_id"`
	Event      string                    `json:"event"`
	Attempted  int                       `json:"attempted"`
	Succeeded  int                       `json:"succeeded"`
	Failed     int                       `json:"failed"`
	Categories map[string]map[string]int `json:"categories"`
	StartedAt  time.Time                 `json:"started_at"`
	EndedAt    time.Time                 `json:"ended_at"`
	Generated  time.Time                 `json:"generated_at"`
}

// writeMetadata writes the run summary document.
func (e *Exporter) writeMetadata(run *domain.BatchRun, path string) error {
	summary := run.Summary()

	categories := make(map[string]map[string]int, len(summary.ByCategory))
	for cat, counts := range summary.ByCategory {
		categories[string(cat)] = map[string]int{
			"succeeded": counts.Succeeded,
			"failed":    counts.Failed,
		}
	}

	doc := runMetadata{
		RunID:      summary.RunID,
		Event:      summary.Event,
		Attempted:  summary.Total,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Categories: categories,
		StartedAt:  summary.StartedAt,
		EndedAt:    summary.EndedAt,
		Generated:  time.Now().UTC(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", domain.ErrResource, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrResource, path, err)
	}
	return nil
}

// uploadFile puts one local report file into the store.
func (e *Exporter) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", domain.ErrResource, path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stating %s: %v", domain.ErrResource, path, err)
	}

	return e.store.Put(ctx, key, f, st.Size())
}
