// Package metrics provides Prometheus metrics for the question pipeline and ingestion
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StateDuration   *prometheus.HistogramVec
	FallbacksTotal  *prometheus.CounterVec

	// Index metrics
	IndexVersion prometheus.Gauge
	IndexChunks  prometheus.Gauge

	// Ingestion metrics
	IngestionRunsTotal      *prometheus.CounterVec
	IngestionDocumentsTotal *prometheus.CounterVec
	IngestionDuration       prometheus.Histogram
}

// New creates metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrag_requests_total",
				Help: "Total number of questions by modality and final state",
			},
			[]string{"modality", "state"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrag_request_duration_seconds",
				Help:    "End-to-end question latency in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"modality"},
		),
		StateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrag_state_duration_seconds",
				Help:    "Time spent in each request state in seconds",
				Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"state"},
		),
		FallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrag_fallbacks_total",
				Help: "Total number of fallback answers by kind",
			},
			[]string{"kind"},
		),
		IndexVersion: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "finrag_index_version",
				Help: "Version of the active index snapshot",
			},
		),
		IndexChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "finrag_index_chunks",
				Help: "Number of chunks in the active index snapshot",
			},
		),
		IngestionRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrag_ingestion_runs_total",
				Help: "Total number of ingestion runs by status",
			},
			[]string{"status"},
		),
		IngestionDocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrag_ingestion_documents_total",
				Help: "Documents seen by ingestion by source and result (stored, unchanged, failed)",
			},
			[]string{"source", "result"},
		),
		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finrag_ingestion_duration_seconds",
				Help:    "Duration of ingestion runs in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
	}
}

// RecordRequest records a finished question
func (m *Metrics) RecordRequest(modality, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(modality, state).Inc()
	m.RequestDuration.WithLabelValues(modality).Observe(duration.Seconds())
}

// RecordState records time spent in one state
func (m *Metrics) RecordState(state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StateDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordFallback counts a fallback answer
func (m *Metrics) RecordFallback(kind string) {
	if m == nil || kind == "" {
		return
	}
	m.FallbacksTotal.WithLabelValues(kind).Inc()
}

// SetIndex updates index gauges
func (m *Metrics) SetIndex(version uint64, chunks int) {
	if m == nil {
		return
	}
	m.IndexVersion.Set(float64(version))
	m.IndexChunks.Set(float64(chunks))
}

// RecordIngestion records an ingestion run
func (m *Metrics) RecordIngestion(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IngestionRunsTotal.WithLabelValues(status).Inc()
	m.IngestionDuration.Observe(duration.Seconds())
}

// RecordDocuments counts documents handled for one source
func (m *Metrics) RecordDocuments(source, result string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.IngestionDocumentsTotal.WithLabelValues(source, result).Add(float64(count))
}
