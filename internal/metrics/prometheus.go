package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the index node
type Metrics struct {
	// Update queue metrics
	UpdatesEnqueuedTotal  prometheus.Counter
	UpdatesProcessedTotal *prometheus.CounterVec
	UpdateApplyDuration   *prometheus.HistogramVec
	PendingUpdates        prometheus.Gauge

	// Index content metrics
	DocumentsDeletedTotal prometheus.Counter
	TermsRemovedTotal     prometheus.Counter
	NumberOfDocuments     prometheus.Gauge

	// System metrics
	DiskUsagePercent prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, indexUID string) *Metrics {
	labels := prometheus.Labels{"index_uid": indexUID}
	factory := promauto.With(reg)

	return &Metrics{
		UpdatesEnqueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "updates_enqueued_total",
			Help:        "Total number of updates added to the queue",
			ConstLabels: labels,
		}),
		UpdatesProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "updates_processed_total",
			Help:        "Total number of updates processed, by type and status",
			ConstLabels: labels,
		}, []string{"type", "status"}),
		UpdateApplyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "update_apply_duration_seconds",
			Help:        "Histogram of update application durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"type"}),
		PendingUpdates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "pending_updates",
			Help:        "Number of updates waiting in the queue",
			ConstLabels: labels,
		}),
		DocumentsDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "documents_deleted_total",
			Help:        "Total number of documents removed from the index",
			ConstLabels: labels,
		}),
		TermsRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "terms_removed_total",
			Help:        "Total number of terms dropped from the dictionary",
			ConstLabels: labels,
		}),
		NumberOfDocuments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "documents",
			Help:        "Number of documents in the index",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage of the data directory",
			ConstLabels: labels,
		}),
	}
}

// RecordEnqueue records updates added to the queue
func (m *Metrics) RecordEnqueue(pending int) {
	m.UpdatesEnqueuedTotal.Inc()
	m.PendingUpdates.Set(float64(pending))
}

// RecordUpdateProcessed records the outcome of one applied update
func (m *Metrics) RecordUpdateProcessed(updateType string, succeeded bool, duration float64) {
	status := "success"
	if !succeeded {
		status = "failure"
	}
	m.UpdatesProcessedTotal.WithLabelValues(updateType, status).Inc()
	m.UpdateApplyDuration.WithLabelValues(updateType).Observe(duration)
}

// RecordDeletion records what a deletion removed
func (m *Metrics) RecordDeletion(documents uint64, terms int) {
	m.DocumentsDeletedTotal.Add(float64(documents))
	m.TermsRemovedTotal.Add(float64(terms))
}

// UpdateIndexStats updates the queue and document gauges
func (m *Metrics) UpdateIndexStats(pending int, documents uint64) {
	m.PendingUpdates.Set(float64(pending))
	m.NumberOfDocuments.Set(float64(documents))
}

// UpdateDiskUsage updates the disk usage gauge
func (m *Metrics) UpdateDiskUsage(percent float64) {
	m.DiskUsagePercent.Set(percent)
}
