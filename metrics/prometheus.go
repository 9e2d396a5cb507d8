package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	issuesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issues_created_total",
			Help: "Total number of issues submitted, by classified department",
		},
		[]string{"department"},
	)

	issueAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issue_assignments_total",
			Help: "Total number of assignment attempts",
		},
		[]string{"department", "result"},
	)

	issueEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issue_escalations_total",
			Help: "Total number of escalation level increases",
		},
		[]string{"from", "to"},
	)

	escalationSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalation_sweeps_total",
			Help: "Total number of escalation sweeps",
		},
		[]string{"result"},
	)
)

// Handler serves the Prometheus registry on a gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// route template keeps ids out of the label set
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// --- Business metric helpers ---

func RecordIssueCreated(department string) {
	issuesCreated.WithLabelValues(department).Inc()
}

// RecordAssignment records an assignment attempt; result is "assigned" or an error code.
func RecordAssignment(department, result string) {
	issueAssignments.WithLabelValues(department, result).Inc()
}

func RecordEscalation(from, to string) {
	issueEscalations.WithLabelValues(from, to).Inc()
}

// RecordSweep records one sweep outcome: "ok", "partial", "failed" or "skipped".
func RecordSweep(result string) {
	escalationSweeps.WithLabelValues(result).Inc()
}
