package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every cbbdx collector. It is served on /metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// API client
	RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_api_requests_total",
		Help: "Upstream API requests by endpoint path and outcome",
	}, []string{"endpoint", "outcome"})

	RetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_api_retries_total",
		Help: "Upstream API retries by endpoint path",
	}, []string{"endpoint"})

	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cbbdx_api_request_duration_seconds",
		Help:    "Latency of single upstream API attempts",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"endpoint"})

	InFlight = factory.NewGauge(prometheus.GaugeOpts{
		Name: "cbbdx_api_in_flight",
		Help: "Upstream requests currently holding a concurrency slot",
	})

	// Ingestion
	RowsWritten = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_rows_written_total",
		Help: "Typed rows written by layer and table",
	}, []string{"layer", "table"})

	UnitsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_units_total",
		Help: "Units of work by endpoint and outcome (succeeded, failed, skipped)",
	}, []string{"endpoint", "outcome"})

	DeadLetters = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_dead_letters_total",
		Help: "Dead-lettered units by endpoint",
	}, []string{"endpoint"})

	CheckpointWrites = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_checkpoint_writes_total",
		Help: "Checkpoint upserts by endpoint",
	}, []string{"endpoint"})

	// Gap fill and validation
	GapfillEntities = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_gapfill_entities_total",
		Help: "Gap-fill entities by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	Findings = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "cbbdx_validation_findings_total",
		Help: "Partition validation findings by severity and kind",
	}, []string{"severity", "kind"})

	LastRunTimestamp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "cbbdx_last_run_finished_timestamp_seconds",
		Help: "Unix time the last ingestion run finished",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}
