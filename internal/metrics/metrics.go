package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "condoleads"

// Metrics holds the sync collectors on a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	entitySyncs     *prometheus.CounterVec
	listingChanges  *prometheus.CounterVec
	entitiesRunning prometheus.Gauge
	syncDuration    prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		entitySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_syncs_total",
			Help:      "Entity sync runs by outcome.",
		}, []string{"status"}),
		listingChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_changes_total",
			Help:      "Listing rows written by operation.",
		}, []string{"operation"}),
		entitiesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_running",
			Help:      "Entity syncs currently in flight.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entity_sync_duration_seconds",
			Help:      "Wall time of one entity sync.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}
	registry.MustRegister(
		m.entitySyncs,
		m.listingChanges,
		m.entitiesRunning,
		m.syncDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EntityStarted() {
	if m == nil {
		return
	}
	m.entitiesRunning.Inc()
}

// EntityFinished closes out an EntityStarted call.
func (m *Metrics) EntityFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.entitiesRunning.Dec()
	m.entitySyncs.WithLabelValues(status).Inc()
	m.syncDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ListingChanges(operation string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.listingChanges.WithLabelValues(operation).Add(float64(count))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
