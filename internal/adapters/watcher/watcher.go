// Package watcher provides inbox watching for continuous ingestion.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler is called once a new raster has settled in the inbox.
type Handler func(ctx context.Context, path string) error

// Watcher watches inbox directories for arriving raster files. Writers
// stream large rasters in, so an arrival is reported only after the
// file has been quiet for the debounce interval.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	paths     []string
	debounce  time.Duration
	mu        sync.Mutex
	pending   map[string]time.Time
}

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
}

// New creates a new inbox watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 2 * time.Second
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		paths:     cfg.Paths,
		debounce:  cfg.Debounce,
		pending:   make(map[string]time.Time),
	}, nil
}

// Start starts watching the configured inbox paths.
func (w *Watcher) Start(ctx context.Context) error {
	for _, path := range w.paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			w.logger.Warn("invalid inbox path", "path", path, "error", err)
			continue
		}

		if err := w.fsWatcher.Add(absPath); err != nil {
			w.logger.Warn("failed to watch inbox", "path", absPath, "error", err)
			continue
		}

		w.logger.Info("watching inbox", "path", absPath)
	}

	go w.eventLoop(ctx)
	go w.settleLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent tracks writes to candidate rasters.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if !isIngestibleRaster(event.Name) {
		return
	}

	// A removed or renamed file never settles.
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
		return
	}

	w.logger.Debug("inbox event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// settleLoop dispatches files that have been quiet long enough.
func (w *Watcher) settleLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.dispatchSettled(ctx)
		}
	}
}

// dispatchSettled hands settled files to the handler.
func (w *Watcher) dispatchSettled(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for path, lastWrite := range w.pending {
		if now.Sub(lastWrite) < w.debounce {
			continue
		}

		delete(w.pending, path)

		w.logger.Info("raster settled", "path", path)

		// Handler runs the pipeline; do not block the settle loop.
		go func(p string) {
			if err := w.handler(ctx, p); err != nil {
				w.logger.Error("ingestion failed", "path", p, "error", err)
			}
		}(path)
	}
}

// isIngestibleRaster applies the same filter as bucket listing: GeoTIFF
// files only, historical reference layers excluded.
func isIngestibleRaster(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(name, ".tif") && !strings.Contains(name, "historical")
}

// AddPath adds an inbox directory to watch.
func (w *Watcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	if err := w.fsWatcher.Add(absPath); err != nil {
		return err
	}

	w.logger.Info("added inbox path", "path", absPath)
	return nil
}
