// Package metrics provides the Prometheus metrics exported by the attendance service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics for the store, catalog, recognition and ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StoreRecoveries     *prometheus.CounterVec
	StoreWriteRetries   *prometheus.CounterVec
	StoreWriteFailures  *prometheus.CounterVec
	Enrollments         prometheus.Counter
	Removals            prometheus.Counter
	RecognitionResults  *prometheus.CounterVec
	RecognitionDistance prometheus.Histogram
	AttendanceEvents    *prometheus.CounterVec
	registry            *prometheus.Registry
}

// New creates the metrics and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register attendance metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.StoreRecoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_corruption_recoveries_total",
		Help: "Collections moved aside as corrupt and replaced by their default value",
	}, []string{"collection"})

	m.StoreWriteRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_write_retries_total",
		Help: "Collection writes that failed and were retried",
	}, []string{"collection"})

	m.StoreWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_write_failures_total",
		Help: "Collection writes that failed after all attempts",
	}, []string{"collection"})

	m.Enrollments = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_enrollments_total",
		Help: "Identities successfully enrolled",
	})

	m.Removals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_removals_total",
		Help: "Identities removed into the archive",
	})

	m.RecognitionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recognition_results_total",
		Help: "Recognition outcomes by status (recognized, unknown, no_face)",
	}, []string{"status"})

	m.RecognitionDistance = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "recognition_best_distance",
		Help:    "Cosine distance of the best candidate for each recognition",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	m.AttendanceEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_events_total",
		Help: "Attendance events created by source",
	}, []string{"source"})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.StoreRecoveries.Describe(ch)
	m.StoreWriteRetries.Describe(ch)
	m.StoreWriteFailures.Describe(ch)
	m.Enrollments.Describe(ch)
	m.Removals.Describe(ch)
	m.RecognitionResults.Describe(ch)
	m.RecognitionDistance.Describe(ch)
	m.AttendanceEvents.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.StoreRecoveries.Collect(ch)
	m.StoreWriteRetries.Collect(ch)
	m.StoreWriteFailures.Collect(ch)
	m.Enrollments.Collect(ch)
	m.Removals.Collect(ch)
	m.RecognitionResults.Collect(ch)
	m.RecognitionDistance.Collect(ch)
	m.AttendanceEvents.Collect(ch)
}

// Registry returns the registry the metrics were registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) StoreRecovered(collection string) {
	if m == nil {
		return
	}
	m.StoreRecoveries.WithLabelValues(collection).Inc()
}

func (m *Metrics) StoreWriteRetried(collection string) {
	if m == nil {
		return
	}
	m.StoreWriteRetries.WithLabelValues(collection).Inc()
}

func (m *Metrics) StoreWriteFailed(collection string) {
	if m == nil {
		return
	}
	m.StoreWriteFailures.WithLabelValues(collection).Inc()
}

func (m *Metrics) Enrolled() {
	if m == nil {
		return
	}
	m.Enrollments.Inc()
}

func (m *Metrics) Removed() {
	if m == nil {
		return
	}
	m.Removals.Inc()
}

// Recognized records one recognition outcome. distance is ignored when negative
// (no candidate was scored).
func (m *Metrics) Recognized(status string, distance float64) {
	if m == nil {
		return
	}
	m.RecognitionResults.WithLabelValues(status).Inc()
	if distance >= 0 {
		m.RecognitionDistance.Observe(distance)
	}
}

func (m *Metrics) AttendanceMarked(source string) {
	if m == nil {
		return
	}
	m.AttendanceEvents.WithLabelValues(source).Inc()
}
