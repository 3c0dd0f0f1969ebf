package domain

import (
	"sync"
	"time"
)

// ItemState is the per-item position in the pipeline state machine.
type ItemState string

// Pipeline states. Any component error moves an item directly to
// StateFailed; Succeeded and Failed are terminal.
const (
	StatePending        ItemState = "pending"
	StateDecidingNodata ItemState = "deciding_nodata"
	StateBuilding       ItemState = "building"
	StateValidating     ItemState = "validating"
	StateNaming         ItemState = "naming"
	StateUploading      ItemState = "uploading"
	StateSucceeded      ItemState = "succeeded"
	StateFailed         ItemState = "failed"
)

// Terminal returns true for the two terminal states.
func (s ItemState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the terminal outcome of one item.
type Outcome string

// Item outcomes.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// UploadResult is the per-asset audit record. It is created once when
// the item reaches a terminal state and never mutated afterward.
type UploadResult struct {
	Source    string
	Category  Category
	Key       string
	Outcome   Outcome
	ErrorKind string
	Error     string
	Nodata    float64
	Duration  time.Duration
	Timestamp time.Time
}

// BatchRun is the append-only result log of one pipeline run. Appends
// are safe for concurrent use by the worker pool; the summary is
// order-independent.
type BatchRun struct {
	ID        string
	Event     string
	StartedAt time.Time
	EndedAt   time.Time

	mu      sync.Mutex
	results []UploadResult
}

// NewBatchRun starts a new run log. Runs are never reused.
func NewBatchRun(id, event string) *BatchRun {
	return &BatchRun{
		ID:        id,
		Event:     event,
		StartedAt: time.Now().UTC(),
	}
}

// Append records a terminal result.
func (b *BatchRun) Append(r UploadResult) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

// Results returns a copy of the recorded results.
func (b *BatchRun) Results() []UploadResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]UploadResult, len(b.results))
	copy(out, b.results)
	return out
}

// Len returns the number of recorded results.
func (b *BatchRun) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}

// Finalize stamps the run end time.
func (b *BatchRun) Finalize() {
	b.EndedAt = time.Now().UTC()
}

// RunSummary reduces a run by category and outcome. It does not depend
// on submission order.
type RunSummary struct {
	RunID      string
	Event      string
	Total      int
	Succeeded  int
	Failed     int
	ByCategory map[Category]CategoryCounts
	StartedAt  time.Time
	EndedAt    time.Time
}

// CategoryCounts holds per-category outcome counts.
type CategoryCounts struct {
	Succeeded int
	Failed    int
}

// Summary computes the run summary. It is always produced, even when
// every item failed.
func (b *BatchRun) Summary() RunSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := RunSummary{
		RunID:      b.ID,
		Event:      b.Event,
		Total:      len(b.results),
		ByCategory: make(map[Category]CategoryCounts),
		StartedAt:  b.StartedAt,
		EndedAt:    b.EndedAt,
	}
	for _, r := range b.results {
		c := s.ByCategory[r.Category]
		if r.Outcome == OutcomeSucceeded {
			s.Succeeded++
			c.Succeeded++
		} else {
			s.Failed++
			c.Failed++
		}
		s.ByCategory[r.Category] = c
	}
	return s
}
