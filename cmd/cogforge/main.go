// Package main provides the entry point for the cogforge pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/cogforge/internal/app"
	"github.com/jobrunner/cogforge/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cogforge",
	Short: "cogforge - COG conversion and upload pipeline",
	Long: `cogforge converts raw geospatial rasters into validated
Cloud-Optimized GeoTIFFs and uploads them to object storage under
deterministic sensor-derived keys.

Features:
  - Dtype-correct nodata sentinel inference
  - Internal tiling, overview pyramids and deflate compression
  - Structural COG validation before any upload
  - Idempotent uploads with bounded retry and backoff
  - Per-item failure isolation with a full per-run result export
  - Multiple storage backends (local, AWS S3, Azure)
  - Inbox watch mode and a run-history status API`,
}

var runCmd = &cobra.Command{
	Use:   "run <manifest.yaml>",
	Short: "Run one batch from a manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch inbox directories and convert arriving rasters",
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("cogforge %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Storage flags
	rootCmd.PersistentFlags().String("storage-type", "local", "storage type (local, s3, azure)")
	rootCmd.PersistentFlags().String("storage-path", "./data", "local storage path")

	// Pipeline flags
	rootCmd.PersistentFlags().Int("workers", 4, "parallel item workers")
	rootCmd.PersistentFlags().String("root-prefix", "drcs_activations_new", "destination key root prefix")

	// Watch flags
	watchCmd.Flags().StringSlice("inbox", nil, "inbox directories to watch")
	watchCmd.Flags().String("event", "", "activation event name for arriving rasters")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("storage.type", rootCmd.PersistentFlags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", rootCmd.PersistentFlags().Lookup("storage-path"))
	_ = viper.BindPFlag("pipeline.workers", rootCmd.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("naming.root_prefix", rootCmd.PersistentFlags().Lookup("root-prefix"))
	_ = viper.BindPFlag("watch.inbox", watchCmd.Flags().Lookup("inbox"))
	_ = viper.BindPFlag("naming.event", watchCmd.Flags().Lookup("event"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// runBatch executes one manifest run to completion.
func runBatch(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting cogforge batch",
		"version", version,
		"manifest", args[0],
		"storage_type", cfg.Storage.Type,
	)

	// Cancel on signal; in-flight items drain to a terminal state.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The batch command does not serve HTTP or watch an inbox.
	cfg.Server.Enabled = false
	cfg.Watch.Inbox = nil

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	run, err := application.Pipeline.RunManifest(ctx, args[0])
	if err != nil {
		return err
	}

	summary := run.Summary()
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d items failed; see the run export for details", summary.Failed, summary.Total)
	}
	return nil
}

// runWatch runs the inbox watcher and status server until signaled.
func runWatch(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting cogforge watch mode",
		"version", version,
		"inbox", cfg.Watch.Inbox,
		"storage_type", cfg.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := application.StartWatch(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("watch mode error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
