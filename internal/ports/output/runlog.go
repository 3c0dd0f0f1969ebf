package output

import (
	"context"

	"github.com/jobrunner/cogforge/internal/domain"
)

// RunRecorder defines the secondary port for the run history store.
type RunRecorder interface {
	// RecordRun persists a finalized run and its results.
	RecordRun(ctx context.Context, run *domain.BatchRun) error

	// RecentRuns returns summaries of the most recent runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// RunResults returns the per-item results of one run.
	RunResults(ctx context.Context, runID string) ([]domain.UploadResult, error)
}

// NoOpRecorder discards run history.
type NoOpRecorder struct{}

// RecordRun implements RunRecorder.
func (n *NoOpRecorder) RecordRun(_ context.Context, _ *domain.BatchRun) error { return nil }

// RecentRuns implements RunRecorder.
func (n *NoOpRecorder) RecentRuns(_ context.Context, _ int) ([]domain.RunSummary, error) {
	return nil, nil
}

// RunResults implements RunRecorder.
func (n *NoOpRecorder) RunResults(_ context.Context, _ string) ([]domain.UploadResult, error) {
	return nil, nil
}
