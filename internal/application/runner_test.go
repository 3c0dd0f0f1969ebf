package application

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
	"github.com/jobrunner/cogforge/internal/ports/output"
)

func uint8RGBInfo() domain.RasterInfo {
	info := float32Info()
	info.Bands = 3
	info.PixelType = domain.PixelUint8
	return info
}

func newTestRunner(conv output.RasterConverter, store output.ObjectStore, metrics output.MetricsCollector, workers int) *BatchRunner {
	up := NewUploader(store, UploaderConfig{
		Retries: 2,
		Backoff: time.Millisecond,
		Timeout: time.Second,
	}, metrics, testLogger())

	return NewBatchRunner(conv, up, "drcs_activations_new", RunnerConfig{
		Workers:         workers,
		ResourceRetries: 2,
		ResourceBackoff: time.Millisecond,
	}, metrics, testLogger())
}

// scenarioManifest enlists 3 RGB, 6 water-mask and 2 diff rasters.
func scenarioManifest(conv *fakeConverter) *Manifest {
	rgb := []string{
		"s1a_iw_20240430T002653_rgb.tif",
		"s2b_msi_20240501T103021_rgb.tif",
		"vnp_viirs_20240502_rgb.tif",
	}
	wm := []string{
		"s1a_iw_20240430T002653_wm.tif",
		"s1a_iw_20240501T002653_wm.tif",
		"s2a_msi_20240502T103021_wm.tif",
		"lc08_l1tp_20240503_wm.tif",
		"hls_s30_20240504_wm.tif",
		"planet_scene_20240505_103022_wm.tif",
	}
	diff := []string{
		"s1a_iw_20240506T002653_wm_diff.tif",
		"aria_sar_20240507_wm_diff.tif",
	}

	m := &Manifest{Event: "202405_Flood_TX"}
	for _, name := range rgb {
		conv.infos[name] = uint8RGBInfo()
		m.Items = append(m.Items, ManifestItem{Path: "/data/" + name, Category: domain.CategoryRGB})
	}
	for _, name := range wm {
		m.Items = append(m.Items, ManifestItem{Path: "/data/" + name, Category: domain.CategoryWaterMask})
	}
	for _, name := range diff {
		m.Items = append(m.Items, ManifestItem{Path: "/data/" + name, Category: domain.CategoryWaterMaskDiff})
	}
	return m
}

func TestRunScenarioAllSucceed(t *testing.T) {
	conv := newFakeConverter()
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 4)

	run := runner.Run(context.Background(), scenarioManifest(conv))

	results := run.Results()
	if len(results) != 11 {
		t.Fatalf("results = %d, want 11", len(results))
	}

	for _, res := range results {
		if res.Outcome != domain.OutcomeSucceeded {
			t.Errorf("%s: outcome = %s (%s)", res.Source, res.Outcome, res.Error)
		}
		want := -9999.0
		if res.Category == domain.CategoryRGB {
			want = 0
		}
		if res.Nodata != want {
			t.Errorf("%s: nodata = %v, want %v", res.Source, res.Nodata, want)
		}
		if !strings.HasPrefix(res.Key, "drcs_activations_new/") {
			t.Errorf("%s: key %q missing root prefix", res.Source, res.Key)
		}
	}

	summary := run.Summary()
	if summary.Succeeded != 11 || summary.Failed != 0 {
		t.Errorf("summary = %d/%d, want 11/0", summary.Succeeded, summary.Failed)
	}
	if got := summary.ByCategory[domain.CategoryRGB].Succeeded; got != 3 {
		t.Errorf("rgb succeeded = %d, want 3", got)
	}
	if got := summary.ByCategory[domain.CategoryWaterMask].Succeeded; got != 6 {
		t.Errorf("wm succeeded = %d, want 6", got)
	}
	if got := summary.ByCategory[domain.CategoryWaterMaskDiff].Succeeded; got != 2 {
		t.Errorf("wm_diff succeeded = %d, want 2", got)
	}

	if got := len(store.keys()); got != 11 {
		t.Errorf("store puts = %d, want 11", got)
	}
}

func TestRunIdempotentKeys(t *testing.T) {
	conv := newFakeConverter()
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 4)

	keysOf := func(run *domain.BatchRun) []string {
		var keys []string
		for _, res := range run.Results() {
			keys = append(keys, res.Key)
		}
		sort.Strings(keys)
		return keys
	}

	first := keysOf(runner.Run(context.Background(), scenarioManifest(conv)))
	second := keysOf(runner.Run(context.Background(), scenarioManifest(conv)))

	if len(first) != len(second) {
		t.Fatalf("key counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("key drift at %d: %q vs %q", i, first[i], second[i])
		}
	}

	// Overwrites, not duplicates.
	objects, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(objects) != 11 {
		t.Errorf("stored objects = %d, want 11", len(objects))
	}
}

func TestRunIsolatesItemFailure(t *testing.T) {
	conv := newFakeConverter()
	conv.probeErrs["s1a_iw_20240501T002653_wm.tif"] = fmt.Errorf("%w: truncated header", domain.ErrSourceRead)
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 2)

	m := &Manifest{Event: "202405_Flood_TX"}
	for _, name := range []string{
		"s1a_iw_20240430T002653_wm.tif",
		"s1a_iw_20240501T002653_wm.tif",
		"s1a_iw_20240502T002653_wm.tif",
		"s1a_iw_20240503T002653_wm.tif",
		"s1a_iw_20240504T002653_wm.tif",
	} {
		m.Items = append(m.Items, ManifestItem{Path: "/data/" + name, Category: domain.CategoryWaterMask})
	}

	run := runner.Run(context.Background(), m)

	summary := run.Summary()
	if summary.Succeeded != 4 || summary.Failed != 1 {
		t.Fatalf("summary = %d/%d, want 4/1", summary.Succeeded, summary.Failed)
	}

	for _, res := range run.Results() {
		if res.Outcome == domain.OutcomeFailed && res.ErrorKind != "source_read" {
			t.Errorf("failed item kind = %q, want %q", res.ErrorKind, "source_read")
		}
	}
}

func TestRunValidationGateBlocksUpload(t *testing.T) {
	conv := newFakeConverter()
	conv.invalid["s1a_iw_20240430T002653_wm.tif"] = true
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 1)

	m := &Manifest{
		Event: "202405_Flood_TX",
		Items: []ManifestItem{{Path: "/data/s1a_iw_20240430T002653_wm.tif", Category: domain.CategoryWaterMask}},
	}

	run := runner.Run(context.Background(), m)

	results := run.Results()
	if len(results) != 1 || results[0].Outcome != domain.OutcomeFailed {
		t.Fatalf("expected single failed result, got %+v", results)
	}
	if results[0].ErrorKind != "invalid_cog" {
		t.Errorf("kind = %q, want %q", results[0].ErrorKind, "invalid_cog")
	}
	if got := len(store.keys()); got != 0 {
		t.Errorf("store received %d puts for an invalid artifact", got)
	}
}

func TestRunRecordsNamingFailure(t *testing.T) {
	conv := newFakeConverter()
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 1)

	m := &Manifest{
		Event: "202405_Flood_TX",
		Items: []ManifestItem{{Path: "/data/unknownbird_20240101_wm.tif", Category: domain.CategoryWaterMask}},
	}

	run := runner.Run(context.Background(), m)

	results := run.Results()
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].ErrorKind != "naming" {
		t.Errorf("kind = %q, want %q", results[0].ErrorKind, "naming")
	}
	if got := len(store.keys()); got != 0 {
		t.Errorf("store received %d puts for an unnameable item", got)
	}
}

func TestRunRetriesResourceErrors(t *testing.T) {
	conv := newFakeConverter()
	conv.buildFailN["s1a_iw_20240430T002653_wm.tif"] = 2
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 1)

	m := &Manifest{
		Event: "202405_Flood_TX",
		Items: []ManifestItem{{Path: "/data/s1a_iw_20240430T002653_wm.tif", Category: domain.CategoryWaterMask}},
	}

	run := runner.Run(context.Background(), m)

	if got := run.Summary().Succeeded; got != 1 {
		t.Fatalf("succeeded = %d, want 1 after resource retries", got)
	}
	if got := conv.buildCalls["s1a_iw_20240430T002653_wm.tif"]; got != 3 {
		t.Errorf("build calls = %d, want 3", got)
	}
}

func TestRunExhaustsResourceRetries(t *testing.T) {
	conv := newFakeConverter()
	conv.buildErrs["s1a_iw_20240430T002653_wm.tif"] = fmt.Errorf("%w: no space left", domain.ErrResource)
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 1)

	m := &Manifest{
		Event: "202405_Flood_TX",
		Items: []ManifestItem{{Path: "/data/s1a_iw_20240430T002653_wm.tif", Category: domain.CategoryWaterMask}},
	}

	run := runner.Run(context.Background(), m)

	results := run.Results()
	if results[0].Outcome != domain.OutcomeFailed || results[0].ErrorKind != "resource" {
		t.Errorf("result = %s/%s, want failed/resource", results[0].Outcome, results[0].ErrorKind)
	}
	// First attempt plus the configured retries.
	if got := conv.buildCalls["s1a_iw_20240430T002653_wm.tif"]; got != 3 {
		t.Errorf("build calls = %d, want 3", got)
	}
}

func TestRunCancellationDrainsInFlight(t *testing.T) {
	conv := newFakeConverter()
	conv.probeStarted = make(chan string, 1)
	conv.probeRelease = make(chan struct{})
	store := newSpyStore()
	runner := newTestRunner(conv, store, &output.NoOpMetrics{}, 1)

	m := &Manifest{Event: "202405_Flood_TX"}
	for _, name := range []string{
		"s1a_iw_20240430T002653_wm.tif",
		"s1a_iw_20240501T002653_wm.tif",
		"s1a_iw_20240502T002653_wm.tif",
	} {
		m.Items = append(m.Items, ManifestItem{Path: "/data/" + name, Category: domain.CategoryWaterMask})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *domain.BatchRun, 1)
	go func() {
		done <- runner.Run(ctx, m)
	}()

	// Wait for the first item to enter the pipeline, then cancel while
	// it is in flight. The pause lets the dispatcher observe the cancel
	// before the worker frees up again.
	<-conv.probeStarted
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(conv.probeRelease)

	run := <-done

	summary := run.Summary()
	if summary.Total != 3 {
		t.Fatalf("total = %d, want one row per manifest item", summary.Total)
	}
	if summary.Succeeded != 1 {
		t.Errorf("succeeded = %d, want the in-flight item to drain", summary.Succeeded)
	}

	canceled := 0
	for _, res := range run.Results() {
		if res.ErrorKind == "canceled" {
			canceled++
		}
	}
	if canceled != 2 {
		t.Errorf("canceled rows = %d, want 2", canceled)
	}
}
