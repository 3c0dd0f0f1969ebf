package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// RunnerConfig holds the batch orchestration policy.
type RunnerConfig struct {
	Workers         int           // parallel item workers
	WorkspaceRoot   string        // temp root, "" means the system default
	ResourceRetries int           // bounded retries for workspace exhaustion
	ResourceBackoff time.Duration // pause between resource retries
}

// BatchRunner drives each manifest item through the pipeline state
// machine over a worker pool. Items are independent; one item's failure
// is recorded and never aborts its siblings.
type BatchRunner struct {
	converter  output.RasterConverter
	uploader   *Uploader
	rootPrefix string
	metrics    output.MetricsCollector
	logger     *slog.Logger
	config     RunnerConfig
}

// NewBatchRunner creates a new batch runner.
func NewBatchRunner(
	converter output.RasterConverter,
	uploader *Uploader,
	rootPrefix string,
	cfg RunnerConfig,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *BatchRunner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ResourceRetries < 0 {
		cfg.ResourceRetries = 0
	}
	if cfg.ResourceBackoff <= 0 {
		cfg.ResourceBackoff = time.Second
	}
	return &BatchRunner{
		converter:  converter,
		uploader:   uploader,
		rootPrefix: rootPrefix,
		metrics:    metrics,
		logger:     logger,
		config:     cfg,
	}
}

// Run processes every manifest item to a terminal state and returns the
// finalized run log. Canceling ctx stops dispatching new items; items
// already in flight drain to a terminal state, and undispatched items
// are recorded as failed. A run summary is always produced.
func (r *BatchRunner) Run(ctx context.Context, m *Manifest) *domain.BatchRun {
	run := domain.NewBatchRun(newRunID(m.Event), m.Event)

	r.logger.Info("starting batch run",
		"run_id", run.ID,
		"event", m.Event,
		"items", len(m.Items),
		"workers", r.config.Workers,
	)

	jobs := make(chan ManifestItem)
	var wg sync.WaitGroup
	var inFlight atomic.Int64

	// In-flight items keep running after cancellation so no item is
	// left without a terminal state.
	itemCtx := context.WithoutCancel(ctx)

	for i := 0; i < r.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				r.metrics.SetItemsInFlight(int(inFlight.Add(1)))
				res := r.processItem(itemCtx, item, m.Event)
				run.Append(res)
				r.metrics.IncItemsProcessed(string(item.Category), string(res.Outcome))
				r.metrics.SetItemsInFlight(int(inFlight.Add(-1)))
			}
		}()
	}

	var undispatched []ManifestItem
dispatch:
	for i, item := range m.Items {
		select {
		case <-ctx.Done():
			undispatched = m.Items[i:]
			break dispatch
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	for _, item := range undispatched {
		res := domain.UploadResult{
			Source:    filepath.Base(item.Path),
			Category:  item.Category,
			Outcome:   domain.OutcomeFailed,
			ErrorKind: "canceled",
			Error:     "run canceled before item was dispatched",
			Timestamp: time.Now().UTC(),
		}
		run.Append(res)
		r.metrics.IncItemsProcessed(string(item.Category), string(res.Outcome))
	}

	run.Finalize()

	summary := run.Summary()
	r.logger.Info("batch run finished",
		"run_id", run.ID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", run.EndedAt.Sub(run.StartedAt),
	)

	return run
}

// processItem walks one item through the pipeline state machine. Every
// error is caught here and converted into a failed result.
func (r *BatchRunner) processItem(ctx context.Context, item ManifestItem, event string) domain.UploadResult {
	start := time.Now()
	source := filepath.Base(item.Path)
	state := domain.StatePending

	fail := func(err error) domain.UploadResult {
		r.logger.Error("item failed",
			"source", source,
			"category", item.Category,
			"state", state,
			"kind", domain.Kind(err),
			"error", err,
		)
		return domain.UploadResult{
			Source:    source,
			Category:  item.Category,
			Outcome:   domain.OutcomeFailed,
			ErrorKind: domain.Kind(err),
			Error:     err.Error(),
			Duration:  time.Since(start),
			Timestamp: time.Now().UTC(),
		}
	}

	workspace, err := os.MkdirTemp(r.config.WorkspaceRoot, "cogforge-")
	if err != nil {
		return fail(fmt.Errorf("%w: creating workspace: %v", domain.ErrResource, err))
	}
	defer os.RemoveAll(workspace)

	state = domain.StateDecidingNodata
	stageStart := time.Now()
	info, err := r.converter.Probe(ctx, item.Path)
	if err != nil {
		return fail(err)
	}
	nodata, err := domain.NodataFor(info.PixelType)
	if err != nil {
		return fail(err)
	}
	r.metrics.ObserveStageDuration("deciding_nodata", time.Since(stageStart))

	asset := domain.RasterAsset{SourcePath: item.Path, Category: item.Category, Info: info}

	state = domain.StateBuilding
	stageStart = time.Now()
	artifact, err := r.buildWithRetry(ctx, asset, nodata, filepath.Join(workspace, source))
	if err != nil {
		return fail(err)
	}
	r.metrics.ObserveStageDuration("building", time.Since(stageStart))

	state = domain.StateValidating
	stageStart = time.Now()
	report, err := r.converter.Validate(ctx, artifact)
	if err != nil {
		return fail(err)
	}
	if !report.Valid {
		return fail(&domain.ValidationFailure{Path: artifact.Path, Report: report})
	}
	r.metrics.ObserveStageDuration("validating", time.Since(stageStart))

	state = domain.StateNaming
	namer := &domain.KeyNamer{RootPrefix: r.rootPrefix, Event: event}
	key, err := namer.Key(source, item.Category)
	if err != nil {
		return fail(err)
	}

	state = domain.StateUploading
	stageStart = time.Now()
	if err := r.uploader.Upload(ctx, artifact, key); err != nil {
		return fail(err)
	}
	r.metrics.ObserveStageDuration("uploading", time.Since(stageStart))

	state = domain.StateSucceeded
	r.logger.Info("item succeeded",
		"source", source,
		"key", key,
		"nodata", nodata,
		"duration", time.Since(start),
	)

	return domain.UploadResult{
		Source:    source,
		Category:  item.Category,
		Key:       key,
		Outcome:   domain.OutcomeSucceeded,
		Nodata:    nodata,
		Duration:  time.Since(start),
		Timestamp: time.Now().UTC(),
	}
}

// buildWithRetry runs the COG build with bounded retries on workspace
// exhaustion. Other build errors are never retried.
func (r *BatchRunner) buildWithRetry(ctx context.Context, asset domain.RasterAsset, nodata float64, destPath string) (domain.CogArtifact, error) {
	var artifact domain.CogArtifact
	var err error

	for attempt := 0; ; attempt++ {
		artifact, err = r.converter.Build(ctx, asset, nodata, destPath)
		if err == nil {
			return artifact, nil
		}
		if !errors.Is(err, domain.ErrResource) || attempt >= r.config.ResourceRetries {
			return domain.CogArtifact{}, err
		}

		r.logger.Warn("retrying build after resource error",
			"source", asset.Name(),
			"attempt", attempt+1,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return domain.CogArtifact{}, err
		case <-time.After(r.config.ResourceBackoff):
		}
	}
}

// newRunID builds a unique run identifier from the event name, a UTC
// timestamp and a short random suffix.
func newRunID(event string) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s-%s-%s", event, time.Now().UTC().Format("20060102T150405"), hex.EncodeToString(suffix))
}
