package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

// UploaderConfig holds the retry policy for uploads.
type UploaderConfig struct {
	Retries int           // retry attempts after the first try
	Backoff time.Duration // initial backoff, doubled per attempt
	Timeout time.Duration // per-call upload timeout
}

// Uploader transfers validated artifacts to the object store with
// bounded exponential backoff. Exhausted retries mark the item failed;
// siblings are never affected.
type Uploader struct {
	store   output.ObjectStore
	metrics output.MetricsCollector
	logger  *slog.Logger
	config  UploaderConfig
}

// NewUploader creates a new uploader around the given store.
func NewUploader(store output.ObjectStore, cfg UploaderConfig, metrics output.MetricsCollector, logger *slog.Logger) *Uploader {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Uploader{
		store:   store,
		metrics: metrics,
		logger:  logger,
		config:  cfg,
	}
}

// Upload transfers the artifact file to the destination key. Writing to
// an existing key overwrites it, so re-runs converge on the same objects.
func (u *Uploader) Upload(ctx context.Context, artifact domain.CogArtifact, key string) error {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("%w: opening artifact %s: %v", domain.ErrResource, artifact.Path, err)
	}
	defer f.Close()

	backoff := u.config.Backoff
	var lastErr error

	for attempt := 0; attempt <= u.config.Retries; attempt++ {
		if attempt > 0 {
			u.metrics.IncUploadRetries()
			u.logger.Warn("retrying upload",
				"key", key,
				"attempt", attempt,
				"backoff", backoff,
				"error", lastErr,
			)

			select {
			case <-ctx.Done():
				return &domain.StorageError{Operation: "put", Key: key, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2

			if _, err := f.Seek(0, 0); err != nil {
				return fmt.Errorf("%w: rewinding artifact %s: %v", domain.ErrResource, artifact.Path, err)
			}
		}

		lastErr = u.put(ctx, key, f, artifact.Size)
		if lastErr == nil {
			u.metrics.AddBytesUploaded(artifact.Size)
			return nil
		}
	}

	return lastErr
}

// put performs one bounded store call.
func (u *Uploader) put(ctx context.Context, key string, f *os.File, size int64) error {
	callCtx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	return u.store.Put(callCtx, key, f, size)
}
