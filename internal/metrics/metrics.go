// Package metrics exports publication repository and retry metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements retry.Observer and repository.Observer.
type Metrics struct {
	RetryAttemptsTotal     *prometheus.CounterVec
	RetryExhaustedTotal    *prometheus.CounterVec
	CreatedTotal           prometheus.Counter
	CompletedTotal         prometheus.Counter
	DeletedTotal           prometheus.Counter
	SkippedTotal           *prometheus.CounterVec
	IncompletePublications prometheus.Gauge
	CompletedPublications  prometheus.Gauge
	CleanupDurationSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_store_retry_attempts_total", Help: "Failed store operations that were retried."},
			[]string{"operation"},
		),
		RetryExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_store_retry_exhausted_total", Help: "Store operations that failed after all attempts."},
			[]string{"operation"},
		),
		CreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_publications_created_total", Help: "Event publications recorded."},
		),
		CompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_publications_completed_total", Help: "Event publications marked completed."},
		),
		DeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "outbox_publications_deleted_total", Help: "Event publications deleted."},
		),
		SkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_publications_skipped_total", Help: "Publications excluded from reads because the event could not be decoded."},
			[]string{"reason"},
		),
		IncompletePublications: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "outbox_publications_incomplete", Help: "Incomplete publications at the last cleanup run."},
		),
		CompletedPublications: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "outbox_publications_completed", Help: "Completed publications left after the last cleanup run."},
		),
		CleanupDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "outbox_cleanup_duration_seconds", Help: "Duration of cleanup runs.", Buckets: prometheus.DefBuckets},
		),
	}

	reg.MustRegister(
		m.RetryAttemptsTotal,
		m.RetryExhaustedTotal,
		m.CreatedTotal,
		m.CompletedTotal,
		m.DeletedTotal,
		m.SkippedTotal,
		m.IncompletePublications,
		m.CompletedPublications,
		m.CleanupDurationSeconds,
	)

	return m
}

func (m *Metrics) ObserveRetry(operation string, _ int, _ error, _ time.Duration) {
	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveExhausted(operation string, _ int, _ error) {
	m.RetryExhaustedTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) PublicationCreated() {
	m.CreatedTotal.Inc()
}

func (m *Metrics) PublicationCompleted() {
	m.CompletedTotal.Inc()
}

func (m *Metrics) PublicationsDeleted(n int) {
	m.DeletedTotal.Add(float64(n))
}

func (m *Metrics) PublicationSkipped(reason string) {
	m.SkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveCleanup records the outcome of one cleanup run.
func (m *Metrics) ObserveCleanup(elapsed time.Duration, incomplete, completed int) {
	m.CleanupDurationSeconds.Observe(elapsed.Seconds())
	m.IncompletePublications.Set(float64(incomplete))
	m.CompletedPublications.Set(float64(completed))
}
