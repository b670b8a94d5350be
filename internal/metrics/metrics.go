// Package metrics provides Prometheus instrumentation for the AutoFi gating service.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autofi",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts risk assessments by resulting level.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Total risk assessments by classification level.",
		},
		[]string{"level"},
	)

	// AssessmentDuration observes end-to-end assessment latency.
	AssessmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autofi",
			Subsystem: "risk",
			Name:      "assessment_duration_seconds",
			Help:      "Risk assessment duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// FactorsTriggeredTotal counts factor triggers by factor id.
	FactorsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "risk",
			Name:      "factors_triggered_total",
			Help:      "Total triggered risk factors by factor id.",
		},
		[]string{"factor"},
	)

	// FactorFailuresTotal counts factor evaluation failures by factor id.
	FactorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "risk",
			Name:      "factor_failures_total",
			Help:      "Total risk factor evaluation failures by factor id.",
		},
		[]string{"factor"},
	)

	// GateDecisionsTotal counts gatekeeper decisions by outcome.
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total gating decisions by outcome (approved, pending_approval, simulated, blocked).",
		},
		[]string{"outcome"},
	)

	// ApprovalTransitionsTotal counts approval lifecycle transitions by resulting status.
	ApprovalTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "approval",
			Name:      "transitions_total",
			Help:      "Total approval request transitions by resulting status.",
		},
		[]string{"status"},
	)

	// ApprovalsPending tracks the current number of pending approval requests.
	ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autofi",
			Subsystem: "approval",
			Name:      "pending",
			Help:      "Current number of pending (non-expired) approval requests.",
		},
	)

	// NotificationsTotal counts notification attempts by event type and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autofi",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total notification delivery attempts by event type and result.",
		},
		[]string{"event_type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		AssessmentDuration,
		FactorsTriggeredTotal,
		FactorFailuresTotal,
		GateDecisionsTotal,
		ApprovalTransitionsTotal,
		ApprovalsPending,
		NotificationsTotal,
	)
}

// ObserveAssessment records the outcome and duration of a risk assessment.
func ObserveAssessment(level string, start time.Time) {
	AssessmentsTotal.WithLabelValues(level).Inc()
	AssessmentDuration.Observe(time.Since(start).Seconds())
}

// GinMiddleware instruments HTTP requests with counters and latency histograms.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := statusClass(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusClass collapses status codes into classes (2xx, 4xx...) to bound cardinality.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
