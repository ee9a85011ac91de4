// internal/collector/metrics.go
package collector

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_records_ingested_total",
		Help: "Telemetry records accepted and stored.",
	})
	ingestRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_ingest_rejected_total",
		Help: "Telemetry envelopes rejected as malformed or rate-limited.",
	})
	insightsProduced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_insights_produced_total",
		Help: "Insights successfully derived and stored.",
	})
	analyzeFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulsegrid_analyze_failed_total",
		Help: "Analyze calls that failed upstream (LLM error or timeout).",
	})
)

func init() {
	prometheus.MustRegister(recordsIngested, ingestRejected, insightsProduced, analyzeFailed)
}
