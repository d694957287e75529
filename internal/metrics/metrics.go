// Package metrics defines Prometheus metrics for the bridge.
//
// All metrics are registered with Registry, which the server exposes on
// /metrics. Naming follows Prometheus conventions: massaction_ prefix,
// _total for counters and _seconds for duration histograms.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Chunk outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
)

// Registry holds every collector of this package plus the Go runtime and
// process collectors.
var Registry = prometheus.NewRegistry()

var (
	// BatchChunksTotal counts settled chunks by outcome.
	BatchChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "massaction_batch_chunks_total",
			Help: "Total batch chunks settled, by outcome.",
		},
		[]string{"outcome"},
	)

	// BatchChunkAttemptsTotal counts processing attempts, retries included.
	BatchChunkAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massaction_batch_chunk_attempts_total",
			Help: "Total chunk processing attempts including retries.",
		},
	)

	// BatchChunkDurationSeconds observes the time from first attempt to settlement.
	BatchChunkDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "massaction_batch_chunk_duration_seconds",
			Help:    "Duration of batch chunks in seconds, retries included.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// BatchItemsProcessedTotal counts items whose chunk settled as ok or failed.
	BatchItemsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "massaction_batch_items_processed_total",
			Help: "Total items processed by the batch engine.",
		},
	)

	// BatchJobsRunning is the number of server-side batch jobs in flight.
	BatchJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "massaction_batch_jobs_running",
			Help: "Server-side batch jobs currently running.",
		},
	)

	// HostRequestsTotal counts calls to the ITSM host by operation and status.
	HostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "massaction_host_requests_total",
			Help: "Total requests sent to the ITSM host.",
		},
		[]string{"op", "status"},
	)

	// HTTPRequestsTotal counts API requests served by method and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "massaction_http_requests_total",
			Help: "Total HTTP requests served.",
		},
		[]string{"method", "status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BatchChunksTotal,
		BatchChunkAttemptsTotal,
		BatchChunkDurationSeconds,
		BatchItemsProcessedTotal,
		BatchJobsRunning,
		HostRequestsTotal,
		HTTPRequestsTotal,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordChunk records a settled chunk.
func RecordChunk(outcome string, items, attempts int, duration time.Duration) {
	BatchChunksTotal.WithLabelValues(outcome).Inc()
	BatchChunkAttemptsTotal.Add(float64(attempts))
	BatchChunkDurationSeconds.Observe(duration.Seconds())
	if outcome != OutcomeAborted {
		BatchItemsProcessedTotal.Add(float64(items))
	}
}

// RecordHostRequest records one call to the host. A zero status means the
// request never got a response.
func RecordHostRequest(op string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	HostRequestsTotal.WithLabelValues(op, label).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
