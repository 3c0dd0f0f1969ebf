// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/cogforge/internal/adapters/geotiff"
	"github.com/jobrunner/cogforge/internal/adapters/httpapi"
	"github.com/jobrunner/cogforge/internal/adapters/metrics"
	"github.com/jobrunner/cogforge/internal/adapters/runlog"
	"github.com/jobrunner/cogforge/internal/adapters/storage"
	"github.com/jobrunner/cogforge/internal/adapters/watcher"
	"github.com/jobrunner/cogforge/internal/application"
	"github.com/jobrunner/cogforge/internal/config"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Storage   output.ObjectStore
	Converter *geotiff.Converter
	RunLog    *runlog.Store
	Pipeline  *application.PipelineService
	Server    *httpapi.Server
	Watcher   *watcher.Watcher
	Metrics   *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector = &output.NoOpMetrics{}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
		metricsCollector = app.Metrics
	}

	// Initialize storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Initialize the COG converter
	converter, err := geotiff.NewConverter(geotiff.Options{
		TileSize:        cfg.Pipeline.TileSize,
		MinOverviewSize: cfg.Pipeline.MinOverviewSize,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing converter: %w", err)
	}
	app.Converter = converter

	// Initialize run history
	var recorder output.RunRecorder = &output.NoOpRecorder{}
	if cfg.History.Enabled {
		runLog, err := runlog.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("opening run history: %w", err)
		}
		app.RunLog = runLog
		recorder = runLog
	}

	// Initialize the pipeline service
	uploader := application.NewUploader(store, application.UploaderConfig{
		Retries: cfg.Pipeline.UploadRetries,
		Backoff: cfg.Pipeline.UploadBackoff,
		Timeout: cfg.Pipeline.UploadTimeout,
	}, metricsCollector, logger)

	runner := application.NewBatchRunner(converter, uploader, cfg.Naming.RootPrefix, application.RunnerConfig{
		Workers:         cfg.Pipeline.Workers,
		WorkspaceRoot:   cfg.Pipeline.Workspace,
		ResourceRetries: cfg.Pipeline.ResourceRetries,
		ResourceBackoff: cfg.Pipeline.ResourceBackoff,
	}, metricsCollector, logger)

	exporter := application.NewExporter(store, cfg.Naming.RootPrefix, cfg.Export.Dir, logger)

	app.Pipeline = application.NewPipelineService(runner, exporter, recorder, logger)

	// Initialize the status server
	if cfg.Server.Enabled {
		app.Server = httpapi.NewServer(cfg.Server, recorder, logger)
	}

	// Initialize the inbox watcher
	if len(cfg.Watch.Inbox) > 0 {
		w, err := watcher.New(
			watcher.Config{
				Paths:    cfg.Watch.Inbox,
				Debounce: cfg.Watch.Debounce,
			},
			app.handleArrival,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing inbox watcher: %w", err)
		}
		app.Watcher = w
	}

	return app, nil
}

// StartWatch starts the watch-mode components and blocks on the status
// server when it is enabled.
func (a *App) StartWatch(ctx context.Context) error {
	if a.Watcher == nil {
		return fmt.Errorf("no inbox directories configured")
	}

	if err := a.Watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting inbox watcher: %w", err)
	}

	if a.Server != nil {
		return a.Server.Start()
	}

	<-ctx.Done()
	return nil
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Logger.Error("status server shutdown error", "error", err)
		}
	}

	if a.RunLog != nil {
		if err := a.RunLog.Close(); err != nil {
			a.Logger.Error("run history close error", "error", err)
		}
	}

	return nil
}

// handleArrival runs a single-item batch for one settled raster.
func (a *App) handleArrival(ctx context.Context, path string) error {
	_, err := a.Pipeline.RunFile(ctx, a.Config.Naming.Event, path)
	return err
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStore, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStore(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStore(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
		})

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
