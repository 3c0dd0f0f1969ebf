package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConverter implements output.RasterConverter for testing. Behavior
// is keyed by the base filename of the source.
type fakeConverter struct {
	mu        sync.Mutex
	infos      map[string]domain.RasterInfo
	probeErrs  map[string]error
	buildErrs  map[string]error
	buildFailN map[string]int // fail this many builds with a resource error
	invalid    map[string]bool

	// Optional synchronization hooks for cancellation tests.
	probeStarted chan string
	probeRelease chan struct{}

	buildCalls map[string]int
}

func newFakeConverter() *fakeConverter {
	return &fakeConverter{
		infos:      make(map[string]domain.RasterInfo),
		probeErrs:  make(map[string]error),
		buildErrs:  make(map[string]error),
		buildFailN: make(map[string]int),
		invalid:    make(map[string]bool),
		buildCalls: make(map[string]int),
	}
}

// float32Info is the default source metadata used when none is set.
func float32Info() domain.RasterInfo {
	return domain.RasterInfo{
		Width:     1024,
		Height:    768,
		Bands:     1,
		PixelType: domain.PixelFloat32,
		EPSG:      4326,
		Transform: domain.Transform{OriginX: -100, OriginY: 40, PixelX: 0.001, PixelY: -0.001},
	}
}

func (f *fakeConverter) Probe(_ context.Context, path string) (domain.RasterInfo, error) {
	base := filepath.Base(path)

	if f.probeStarted != nil {
		f.probeStarted <- base
	}
	if f.probeRelease != nil {
		<-f.probeRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.probeErrs[base]; ok {
		return domain.RasterInfo{}, err
	}
	if info, ok := f.infos[base]; ok {
		return info, nil
	}
	return float32Info(), nil
}

func (f *fakeConverter) Build(_ context.Context, asset domain.RasterAsset, nodata float64, destPath string) (domain.CogArtifact, error) {
	base := asset.Name()

	f.mu.Lock()
	f.buildCalls[base]++
	err := f.buildErrs[base]
	if err == nil && f.buildFailN[base] > 0 {
		f.buildFailN[base]--
		err = fmt.Errorf("%w: workspace full", domain.ErrResource)
	}
	f.mu.Unlock()
	if err != nil {
		return domain.CogArtifact{}, err
	}

	content := []byte("cog bytes for " + base)
	if werr := os.WriteFile(destPath, content, 0o644); werr != nil {
		return domain.CogArtifact{}, werr
	}

	return domain.CogArtifact{
		Path:      destPath,
		Source:    base,
		Category:  asset.Category,
		PixelType: asset.Info.PixelType,
		Nodata:    nodata,
		Size:      int64(len(content)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeConverter) Validate(_ context.Context, artifact domain.CogArtifact) (domain.ValidationReport, error) {
	f.mu.Lock()
	bad := f.invalid[artifact.Source]
	f.mu.Unlock()

	report := domain.ValidationReport{Valid: true, TileWidth: 512, TileHeight: 512, Overviews: 2}
	if bad {
		report.Violation("missing overview pyramid")
	}
	return report, nil
}

// spyStore implements output.ObjectStore and records every put.
type spyStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putKeys  []string
	failPuts int // fail this many puts before succeeding
}

func newSpyStore() *spyStore {
	return &spyStore{objects: make(map[string][]byte)}
}

func (s *spyStore) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPuts > 0 {
		s.failPuts--
		return &domain.StorageError{Operation: "put", Key: key, Err: errors.New("connection reset")}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return &domain.StorageError{Operation: "put", Key: key, Err: err}
	}
	s.objects[key] = data
	s.putKeys = append(s.putKeys, key)
	return nil
}

func (s *spyStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *spyStore) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []output.StorageObject
	for key, data := range s.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, output.StorageObject{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (s *spyStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.putKeys))
	copy(out, s.putKeys)
	return out
}

// countingMetrics implements output.MetricsCollector with counters.
type countingMetrics struct {
	mu      sync.Mutex
	retries int
	bytes   int64
	items   map[string]int // category/outcome
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{items: make(map[string]int)}
}

func (c *countingMetrics) IncItemsProcessed(category, outcome string) {
	c.mu.Lock()
	c.items[category+"/"+outcome]++
	c.mu.Unlock()
}

func (c *countingMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

func (c *countingMetrics) IncUploadRetries() {
	c.mu.Lock()
	c.retries++
	c.mu.Unlock()
}

func (c *countingMetrics) AddBytesUploaded(n int64) {
	c.mu.Lock()
	c.bytes += n
	c.mu.Unlock()
}

func (c *countingMetrics) SetItemsInFlight(_ int) {}

func (c *countingMetrics) retryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}
