package domain

import (
	"fmt"
	"sync"
	"testing"
)

func TestBatchRun_ConcurrentAppend(t *testing.T) {
	run := NewBatchRun("run-1", "202405_Flood_TX")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run.Append(UploadResult{
				Source:  fmt.Sprintf("file-%d.tif", i),
				Outcome: OutcomeSucceeded,
			})
		}(i)
	}
	wg.Wait()

	if run.Len() != 50 {
		t.Errorf("expected 50 results, got %d", run.Len())
	}
}

func TestBatchRun_SummaryByCategoryAndOutcome(t *testing.T) {
	run := NewBatchRun("run-1", "202405_Flood_TX")

	for i := 0; i < 3; i++ {
		run.Append(UploadResult{Category: CategoryRGB, Outcome: OutcomeSucceeded})
	}
	for i := 0; i < 6; i++ {
		run.Append(UploadResult{Category: CategoryWaterMask, Outcome: OutcomeSucceeded})
	}
	run.Append(UploadResult{Category: CategoryWaterMaskDiff, Outcome: OutcomeSucceeded})
	run.Append(UploadResult{Category: CategoryWaterMaskDiff, Outcome: OutcomeFailed, ErrorKind: "upload"})
	run.Finalize()

	s := run.Summary()
	if s.Total != 11 {
		t.Errorf("total = %d, want 11", s.Total)
	}
	if s.Succeeded != 10 || s.Failed != 1 {
		t.Errorf("succeeded/failed = %d/%d, want 10/1", s.Succeeded, s.Failed)
	}
	if c := s.ByCategory[CategoryRGB]; c.Succeeded != 3 || c.Failed != 0 {
		t.Errorf("rgb counts = %+v", c)
	}
	if c := s.ByCategory[CategoryWaterMaskDiff]; c.Succeeded != 1 || c.Failed != 1 {
		t.Errorf("wm_diff counts = %+v", c)
	}
	if s.EndedAt.IsZero() {
		t.Error("expected EndedAt to be stamped after Finalize")
	}
}

func TestBatchRun_SummaryProducedWhenAllFail(t *testing.T) {
	run := NewBatchRun("run-2", "")
	run.Append(UploadResult{Category: CategoryRGB, Outcome: OutcomeFailed, ErrorKind: "source_read"})
	run.Finalize()

	s := run.Summary()
	if s.Total != 1 || s.Failed != 1 || s.Succeeded != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestItemState_Terminal(t *testing.T) {
	for _, s := range []ItemState{StatePending, StateDecidingNodata, StateBuilding, StateValidating, StateNaming, StateUploading} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	if !StateSucceeded.Terminal() || !StateFailed.Terminal() {
		t.Error("succeeded and failed must be terminal")
	}
}
