// Package metrics provides Prometheus metrics for the translation pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline metrics
var (
	// stepTotal counts finished pipeline steps.
	// Labels:
	//   - step: Step name (e.g., "translation", "audio_generation")
	//   - result: "success" or "failed"
	stepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_steps_total",
			Help: "Total number of finished pipeline steps",
		},
		[]string{"step", "result"},
	)

	// stepDuration records how long each step ran.
	// Buckets: 1s up to 1 hour
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_step_duration_seconds",
			Help:    "Duration of pipeline steps in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"step"},
	)

	// jobsTotal counts jobs reaching a terminal state.
	// Labels:
	//   - status: Terminal status name (e.g., "COMPLETED", "FAILED_MERGING_TARGET_CHUNKS")
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"},
	)

	// unitsTotal counts per-unit outcomes inside a step.
	// Labels:
	//   - unit: "chunk" or "segment"
	//   - result: "success", "skipped", "failed" or "retry"
	unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_units_total",
			Help: "Total number of processed translation chunks and audio segments",
		},
		[]string{"unit", "result"},
	)

	// engineCalls counts calls to external engines.
	// Labels:
	//   - engine: "transcriber", "translator", "speech" or "audio"
	//   - status: "success" or "error"
	engineCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_engine_calls_total",
			Help: "Total number of external engine calls",
		},
		[]string{"engine", "status"},
	)
)

// API metrics
var (
	// WebSocketClients is the number of connected progress subscribers.
	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// httpRequests counts handled API requests.
	// Labels:
	//   - route: Route pattern (e.g., "/api/v1/jobs/:jobId")
	//   - status: HTTP status code class ("2xx", "4xx", "5xx")
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_http_requests_total",
			Help: "Total number of handled HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(stepTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(unitsTotal)
	prometheus.MustRegister(engineCalls)
	prometheus.MustRegister(WebSocketClients)
	prometheus.MustRegister(httpRequests)
}

// RecordStep records a finished step and its duration.
func RecordStep(step, result string, durationSeconds float64) {
	stepTotal.WithLabelValues(step, result).Inc()
	stepDuration.WithLabelValues(step).Observe(durationSeconds)
}

// RecordJob records a job reaching a terminal status.
func RecordJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// RecordUnit records the outcome of one chunk or segment.
func RecordUnit(unit, result string) {
	unitsTotal.WithLabelValues(unit, result).Inc()
}

// RecordEngineCall records a call to an external engine.
func RecordEngineCall(engine string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	engineCalls.WithLabelValues(engine, status).Inc()
}

// RecordHTTPRequest records one handled request by status class.
func RecordHTTPRequest(method, route string, status int) {
	httpRequests.WithLabelValues(method, route, fmt.Sprintf("%dxx", status/100)).Inc()
}
