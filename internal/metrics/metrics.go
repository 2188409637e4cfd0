// Package metrics exposes gallery counters and gauges to Prometheus.
//
// A nil *Metrics is valid and records nothing, so libraries and tests can run
// without a registry.
package metrics

import (
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gallery"

type Metrics struct {
	uploads    *prometheus.CounterVec
	rejections *prometheus.CounterVec
	deletions  prometheus.Counter
	cleanups   *prometheus.CounterVec
	removed    *prometheus.CounterVec
	freed      prometheus.Counter
	used       *prometheus.GaugeVec
	limit      *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Admitted uploads by storage variant.",
		}, []string{"variant"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_rejections_total",
			Help:      "Rejected uploads by reason.",
		}, []string{"reason"}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Explicit photo deletions.",
		}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_passes_total",
			Help:      "Cleanup passes that changed the store.",
		}, []string{"mode"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_removed_total",
			Help:      "Keys removed by cleanup passes.",
		}, []string{"kind"}),
		freed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_freed_bytes_total",
			Help:      "Bytes freed by cleanup passes.",
		}),
		used: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Storage usage by scope.",
		}, []string{"scope"}),
		limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_limit_bytes",
			Help:      "Storage limit by scope.",
		}, []string{"scope"}),
	}
	reg.MustRegister(m.uploads, m.rejections, m.deletions, m.cleanups, m.removed, m.freed, m.used, m.limit)
	return m
}

func (m *Metrics) Upload(variant string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(variant).Inc()
}

func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Deletion() {
	if m == nil {
		return
	}
	m.deletions.Inc()
}

// Cleanup records a cleanup report. It matches eviction.Manager.OnReport.
func (m *Metrics) Cleanup(r eviction.Report) {
	if m == nil {
		return
	}
	mode := "normal"
	if r.Aggressive {
		mode = "aggressive"
	}
	m.cleanups.WithLabelValues(mode).Inc()
	m.removed.WithLabelValues("cache").Add(float64(r.EntriesRemoved))
	m.removed.WithLabelValues("orphan").Add(float64(r.OrphansRemoved))
	m.removed.WithLabelValues("metadata").Add(float64(r.MetadataRecordsRemoved))
	m.freed.Add(float64(r.BytesFreed))
}

// Usage sets the usage gauges for scope.
func (m *Metrics) Usage(scope string, used, limit int64) {
	if m == nil {
		return
	}
	m.used.WithLabelValues(scope).Set(float64(used))
	m.limit.WithLabelValues(scope).Set(float64(limit))
}
