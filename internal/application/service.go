package application

import (
	"context"
	"log/slog"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// PipelineService ties the batch runner to the run export and the run
// history store. It is the entry point used by both the CLI and the
// inbox watcher.
type PipelineService struct {
	runner   *BatchRunner
	exporter *Exporter
	recorder output.RunRecorder
	logger   *slog.Logger
}

// NewPipelineService creates a new pipeline service.
func NewPipelineService(runner *BatchRunner, exporter *Exporter, recorder output.RunRecorder, logger *slog.Logger) *PipelineService {
	return &PipelineService{
		runner:   runner,
		exporter: exporter,
		recorder: recorder,
		logger:   logger,
	}
}

// RunManifest loads a manifest and runs the full batch. Only a
// malformed manifest fails before any item starts; item failures show
// up as rows in the run log.
func (s *PipelineService) RunManifest(ctx context.Context, path string) (*domain.BatchRun, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, m), nil
}

// RunFile runs a single-item batch for one arrived raster, inferring
// its category from the filename.
func (s *PipelineService) RunFile(ctx context.Context, event, path string) (*domain.BatchRun, error) {
	m, err := SingleItem(event, path)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, m), nil
}

// execute runs the batch and persists its audit artifacts. Export or
// history failures are logged; the run log itself is still returned.
func (s *PipelineService) execute(ctx context.Context, m *Manifest) *domain.BatchRun {
	run := s.runner.Run(ctx, m)

	// The run is already final; persist audit artifacts without the
	// canceled context so they are never lost on shutdown.
	persistCtx := context.WithoutCancel(ctx)

	if err := s.exporter.Export(persistCtx, run); err != nil {
		s.logger.Error("run export failed", "run_id", run.ID, "error", err)
	}
	if err := s.recorder.RecordRun(persistCtx, run); err != nil {
		s.logger.Error("recording run history failed", "run_id", run.ID, "error", err)
	}

	return run
}
