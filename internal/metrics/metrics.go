package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assimilate_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveRuns tracks runs whose worker has not terminated yet
	ActiveRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assimilate_active_runs",
			Help: "Number of active assimilation runs",
		},
		[]string{"algorithm"},
	)

	// RunDuration tracks how long runs take from start to join
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assimilate_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		},
		[]string{"algorithm", "status"},
	)

	// Callouts counts requests handed from a worker to its controller
	Callouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_callouts_total",
			Help: "Total number of worker callouts",
		},
		[]string{"algorithm"},
	)

	// EvaluationDuration tracks how long the controller takes to answer a callout
	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assimilate_evaluation_duration_seconds",
			Help:    "Evaluation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"evaluator"},
	)

	// EvaluationErrors counts failed evaluations
	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_evaluation_errors_total",
			Help: "Total number of failed evaluations",
		},
		[]string{"evaluator"},
	)

	// EventBufferDrops tracks dropped events due to buffer overflow
	EventBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_event_buffer_drops_total",
			Help: "Total number of events dropped due to buffer overflow",
		},
		[]string{"run_id"},
	)

	// ScheduledExecutions counts schedule executions by outcome
	ScheduledExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_scheduled_executions_total",
			Help: "Total number of scheduled run executions",
		},
		[]string{"status"},
	)

	// DataDiskUsage is the used share of the file system holding the data
	// directory, in percent
	DataDiskUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assimilate_data_disk_usage_percent",
			Help: "Used space of the data directory's file system in percent",
		},
	)

	// PrunedRecords counts records removed by retention cleanup
	PrunedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_pruned_records_total",
			Help: "Total number of records removed by retention cleanup",
		},
		[]string{"kind"},
	)

	// ToolCalls tracks MCP tool invocations
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assimilate_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware creates an HTTP middleware that records metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded
func normalizePath(path string) string {
	switch path {
	case "/health", "/ready", "/mcp", "/mcp/", "/metrics":
		return path
	default:
		if len(path) > 5 && path[:5] == "/mcp/" {
			return "/mcp"
		}
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRunStart increments the active run gauge
func RecordRunStart(algorithm string) {
	ActiveRuns.WithLabelValues(algorithm).Inc()
}

// RecordRunEnd decrements the active run gauge and records duration
func RecordRunEnd(algorithm, status string, durationSeconds float64) {
	ActiveRuns.WithLabelValues(algorithm).Dec()
	RunDuration.WithLabelValues(algorithm, status).Observe(durationSeconds)
}

// RecordCallout counts one worker callout
func RecordCallout(algorithm string) {
	Callouts.WithLabelValues(algorithm).Inc()
}

// RecordEvaluation records one controller evaluation and its outcome
func RecordEvaluation(evaluator string, durationSeconds float64, err error) {
	EvaluationDuration.WithLabelValues(evaluator).Observe(durationSeconds)
	if err != nil {
		EvaluationErrors.WithLabelValues(evaluator).Inc()
	}
}

// RecordScheduledExecution records the outcome of a scheduled run
func RecordScheduledExecution(status string) {
	ScheduledExecutions.WithLabelValues(status).Inc()
}

// RecordToolCall records an MCP tool invocation
func RecordToolCall(tool, status string) {
	ToolCalls.WithLabelValues(tool, status).Inc()
}

// RecordEventDrop records an event buffer drop
func RecordEventDrop(runID string) {
	EventBufferDrops.WithLabelValues(runID).Inc()
}

// RecordDiskUsage sets the data directory disk usage gauge.
func RecordDiskUsage(percent float64) {
	DataDiskUsage.Set(percent)
}

// RecordPruned counts n records of kind removed by cleanup.
func RecordPruned(kind string, n int64) {
	PrunedRecords.WithLabelValues(kind).Add(float64(n))
}
