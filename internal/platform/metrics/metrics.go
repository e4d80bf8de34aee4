package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine. Services accept a nil
// *Metrics; every recording method is a no-op then, which keeps unit tests
// free of registry bookkeeping.
type Metrics struct {
	VersionsAppended prometheus.Counter
	RequestsOpened   *prometheus.CounterVec
	RequestsResolved *prometheus.CounterVec
	TogglesApplied   prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	OutboxPublished  prometheus.Counter
	OutboxErrors     prometheus.Counter
}

// New creates and registers all metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VersionsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_detail_versions_appended_total",
			Help: "Total number of detail versions appended across all masters",
		}),
		RequestsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zenmgt_approval_requests_opened_total",
			Help: "Total number of approval requests opened, by request type",
		}, []string{"type"}),
		RequestsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zenmgt_approval_requests_resolved_total",
			Help: "Total number of approval requests reaching a terminal status, by outcome",
		}, []string{"outcome"}),
		TogglesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_status_toggles_total",
			Help: "Total number of direct ACTIVE/INACTIVE toggles applied",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_detail_cache_hits_total",
			Help: "Current-detail cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_detail_cache_misses_total",
			Help: "Current-detail cache misses",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_outbox_published_total",
			Help: "Outbox entries successfully published to the broker",
		}),
		OutboxErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "zenmgt_outbox_errors_total",
			Help: "Outbox publish attempts that failed",
		}),
	}
}

func (m *Metrics) IncVersionsAppended() {
	if m != nil {
		m.VersionsAppended.Inc()
	}
}

func (m *Metrics) IncRequestsOpened(requestType string) {
	if m != nil {
		m.RequestsOpened.WithLabelValues(requestType).Inc()
	}
}

func (m *Metrics) IncRequestsResolved(outcome string) {
	if m != nil {
		m.RequestsResolved.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncTogglesApplied() {
	if m != nil {
		m.TogglesApplied.Inc()
	}
}

func (m *Metrics) IncCacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) IncCacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) IncOutboxPublished() {
	if m != nil {
		m.OutboxPublished.Inc()
	}
}

func (m *Metrics) IncOutboxError() {
	if m != nil {
		m.OutboxErrors.Inc()
	}
}
