// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	itemsProcessed *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	uploadRetries  prometheus.Counter
	bytesUploaded  prometheus.Counter
	itemsInFlight  prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "cogforge"
	}

	return &Collector{
		itemsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_processed_total",
				Help:      "Total number of pipeline items by category and outcome",
			},
			[]string{"category", "outcome"},
		),

		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		uploadRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_retries_total",
				Help:      "Total number of upload retry attempts",
			},
		),

		bytesUploaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_uploaded_total",
				Help:      "Total bytes uploaded to object storage",
			},
		),

		itemsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_in_flight",
				Help:      "Number of items currently being processed",
			},
		),
	}
}

// IncItemsProcessed increments the per-item outcome counter.
func (c *Collector) IncItemsProcessed(category, outcome string) {
	c.itemsProcessed.WithLabelValues(category, outcome).Inc()
}

// ObserveStageDuration records how long one pipeline stage took.
func (c *Collector) ObserveStageDuration(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// IncUploadRetries increments the upload retry counter.
func (c *Collector) IncUploadRetries() {
	c.uploadRetries.Inc()
}

// AddBytesUploaded adds to the uploaded byte counter.
func (c *Collector) AddBytesUploaded(n int64) {
	c.bytesUploaded.Add(float64(n))
}

// SetItemsInFlight sets the number of items currently being processed.
func (c *Collector) SetItemsInFlight(n int) {
	c.itemsInFlight.Set(float64(n))
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
