// Package metrics exposes Prometheus counters and histograms for the
// ingest and worker services, grounded in CrlsMrls-dummybox's
// metrics.InitMetrics/MetricsHandler pattern (registry built once via
// sync.Once, exposed through promhttp), adapted to this pipeline's
// events instead of generic HTTP traffic and logged through slog
// rather than the teacher's zerolog.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentrywire_ingest_requests_total", Help: "Total ingest requests by outcome."},
		[]string{"endpoint", "outcome"},
	)
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sentrywire_events_processed_total", Help: "Total events processed by the worker pipeline."},
		[]string{"severity"},
	)
	AlertsRaisedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sentrywire_alerts_raised_total", Help: "Total alerts raised by the rule engine and anomaly scorer."},
	)
	IncidentsRaisedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sentrywire_incidents_raised_total", Help: "Total incidents raised by the correlator."},
	)
	BlocksIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sentrywire_blocks_issued_total", Help: "Total IPs blocked by the responder."},
	)
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentrywire_pipeline_stage_duration_seconds",
			Help:    "Duration of each worker pipeline stage.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

var (
	once     sync.Once
	registry *prometheus.Registry
)

// Init registers all collectors exactly once and returns the registry.
func Init() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			IngestRequestsTotal,
			EventsProcessedTotal,
			AlertsRaisedTotal,
			IncidentsRaisedTotal,
			BlocksIssuedTotal,
			PipelineStageDuration,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return registry
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Init(), promhttp.HandlerOpts{})
}
