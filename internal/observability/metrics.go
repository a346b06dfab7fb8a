package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sweepDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Approval workflow metrics
	WorkflowCreationsTotal   prometheus.Counter
	DecisionsTotal           *prometheus.CounterVec
	ReassignmentsTotal       prometheus.Counter
	RequesterResponsesTotal  prometheus.Counter
	WorkflowCompletionsTotal *prometheus.CounterVec
	WorkflowsOpen            prometheus.Gauge
	FeedbackOpen             prometheus.Gauge
	MissedSeatsTotal         prometheus.Counter

	// Overdue sweep metrics
	SweepRunsTotal *prometheus.CounterVec
	SweepDuration  prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Directory cache metrics
	DirectoryCacheHitsTotal   prometheus.Counter
	DirectoryCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruzuku_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ruzuku_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ruzuku_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ruzuku_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Approvals
		WorkflowCreationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_workflow_creations_total",
			Help: "Total number of approval workflows created.",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruzuku_decisions_total",
			Help: "Total number of approver decisions by outcome.",
		}, []string{"decision"}),
		ReassignmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_reassignments_total",
			Help: "Total number of seat reassignments.",
		}),
		RequesterResponsesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_requester_responses_total",
			Help: "Total number of requester responses to return feedback.",
		}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruzuku_workflow_completions_total",
			Help: "Total number of workflows reaching a terminal status.",
		}, []string{"final_status"}),
		WorkflowsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruzuku_workflows_open",
			Help: "Number of workflows not yet in a terminal status.",
		}),
		FeedbackOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ruzuku_feedback_open",
			Help: "Number of return feedback entries awaiting a requester response.",
		}),
		MissedSeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_missed_seats_total",
			Help: "Total number of seats marked missed by the overdue sweep.",
		}),

		// Sweep
		SweepRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruzuku_sweep_runs_total",
			Help: "Total number of overdue sweep runs.",
		}, []string{"status"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ruzuku_sweep_duration_seconds",
			Help:    "Overdue sweep duration in seconds.",
			Buckets: sweepDurationBuckets,
		}),

		// Notifications
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ruzuku_notifications_total",
			Help: "Total number of outbound notifications by delivery status.",
		}, []string{"status"}),

		// Directory cache
		DirectoryCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_directory_cache_hits_total",
			Help: "Total identity directory cache hits.",
		}),
		DirectoryCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ruzuku_directory_cache_misses_total",
			Help: "Total identity directory cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Approvals
		m.WorkflowCreationsTotal,
		m.DecisionsTotal,
		m.ReassignmentsTotal,
		m.RequesterResponsesTotal,
		m.WorkflowCompletionsTotal,
		m.WorkflowsOpen,
		m.FeedbackOpen,
		m.MissedSeatsTotal,
		// Sweep
		m.SweepRunsTotal,
		m.SweepDuration,
		// Notifications
		m.NotificationsTotal,
		// Directory cache
		m.DirectoryCacheHitsTotal,
		m.DirectoryCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowCreation records a workflow creation.
func (m *Metrics) RecordWorkflowCreation() {
	m.WorkflowCreationsTotal.Inc()
	m.WorkflowsOpen.Inc()
}

// RecordDecision records an approver decision by outcome.
func (m *Metrics) RecordDecision(decision string) {
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordReassignment records a seat reassignment.
func (m *Metrics) RecordReassignment() {
	m.ReassignmentsTotal.Inc()
}

// RecordRequesterResponse records a requester response to return feedback.
func (m *Metrics) RecordRequesterResponse() {
	m.RequesterResponsesTotal.Inc()
	m.FeedbackOpen.Dec()
}

// RecordFeedbackOpened records a newly opened return feedback.
func (m *Metrics) RecordFeedbackOpened() {
	m.FeedbackOpen.Inc()
}

// RecordWorkflowCompletion records a workflow reaching a terminal status.
func (m *Metrics) RecordWorkflowCompletion(finalStatus string) {
	m.WorkflowCompletionsTotal.WithLabelValues(finalStatus).Inc()
	m.WorkflowsOpen.Dec()
}

// RecordMissedSeat records a seat marked missed by the sweep.
func (m *Metrics) RecordMissedSeat() {
	m.MissedSeatsTotal.Inc()
}

// RecordSweep records an overdue sweep run.
func (m *Metrics) RecordSweep(status string, duration time.Duration) {
	m.SweepRunsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
}

// RecordNotification records an outbound notification attempt.
func (m *Metrics) RecordNotification(status string) {
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// RecordDirectoryCacheHit records an identity directory cache hit.
func (m *Metrics) RecordDirectoryCacheHit() {
	m.DirectoryCacheHitsTotal.Inc()
}

// RecordDirectoryCacheMiss records an identity directory cache miss.
func (m *Metrics) RecordDirectoryCacheMiss() {
	m.DirectoryCacheMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
