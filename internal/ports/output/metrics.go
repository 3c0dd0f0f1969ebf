package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncItemsProcessed increments the per-item outcome counter.
	IncItemsProcessed(category, outcome string)

	// ObserveStageDuration records how long one pipeline stage took.
	ObserveStageDuration(stage string, duration time.Duration)

	// IncUploadRetries increments the upload retry counter.
	IncUploadRetries()

	// AddBytesUploaded adds to the uploaded byte counter.
	AddBytesUploaded(n int64)

	// SetItemsInFlight sets the number of items currently being processed.
	SetItemsInFlight(n int)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncItemsProcessed implements MetricsCollector.
func (n *NoOpMetrics) IncItemsProcessed(_, _ string) {}

// ObserveStageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

// IncUploadRetries implements MetricsCollector.
func (n *NoOpMetrics) IncUploadRetries() {}

// AddBytesUploaded implements MetricsCollector.
func (n *NoOpMetrics) AddBytesUploaded(_ int64) {}

// SetItemsInFlight implements MetricsCollector.
func (n *NoOpMetrics) SetItemsInFlight(_ int) {}
