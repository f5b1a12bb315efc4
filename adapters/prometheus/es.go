package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harborward/theseus-go/core/es"
	"github.com/harborward/theseus-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	snapshotWriteDuration *prometheus.HistogramVec
	snapshotWriteFailures *prometheus.CounterVec

	consumerEventDuration *prometheus.HistogramVec
	consumerEvents        *prometheus.CounterVec
	consumerLag           *prometheus.GaugeVec

	projectionApplied *prometheus.CounterVec
	projectionStalls  *prometheus.CounterVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "theseus_es_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "theseus_es_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_cache_hits_total",
			Help: "Total number of hydration cache hits",
		}, []string{"aggregate_type"}),

		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_cache_misses_total",
			Help: "Total number of hydration cache misses",
		}, []string{"aggregate_type"}),

		snapshotWriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "theseus_es_snapshot_write_duration_seconds",
			Help:    "Snapshot write latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_snapshot_write_failures_total",
			Help: "Total number of failed snapshot writes",
		}, []string{"aggregate_type"}),

		consumerEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "theseus_es_consumer_event_duration_seconds",
			Help:    "Event processing time in seconds",
			Buckets: defaultBuckets,
		}, []string{"event_type", "live"}),

		consumerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_consumer_events_total",
			Help: "Total number of events processed",
		}, []string{"event_type", "live", "success"}),

		consumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "theseus_es_consumer_lag",
			Help: "Consumer lag (sequences behind)",
		}, []string{"consumer"}),

		projectionApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_projection_events_applied_total",
			Help: "Total number of events applied per bounded context",
		}, []string{"context"}),

		projectionStalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theseus_es_projection_stalls_total",
			Help: "Total number of projection stalls",
		}, []string{"context"}),
	}

	reg.MustRegister(
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotWriteDuration,
		m.snapshotWriteFailures,
		m.consumerEventDuration,
		m.consumerEvents,
		m.consumerLag,
		m.projectionApplied,
		m.projectionStalls,
	)

	return m
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotWriteDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotWriteDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotWriteFailure(aggType string) {
	m.snapshotWriteFailures.WithLabelValues(aggType).Inc()
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *esMetrics) ConsumerEventDuration(eventType string, live bool) metrics.Timer {
	return newTimer(m.consumerEventDuration.WithLabelValues(eventType, boolToStr(live)))
}

func (m *esMetrics) ConsumerEventProcessed(eventType string, live bool, success bool) {
	m.consumerEvents.WithLabelValues(eventType, boolToStr(live), boolToStr(success)).Inc()
}

func (m *esMetrics) ConsumerLag(consumer string, lag uint64) {
	m.consumerLag.WithLabelValues(consumer).Set(float64(lag))
}

func (m *esMetrics) ProjectionApplied(contextName string) {
	m.projectionApplied.WithLabelValues(contextName).Inc()
}

func (m *esMetrics) ProjectionStalled(contextName string) {
	m.projectionStalls.WithLabelValues(contextName).Inc()
}

var _ es.ESMetrics = (*esMetrics)(nil)
