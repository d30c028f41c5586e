// Package metrics exposes Prometheus collectors for the HTTP surface and the
// attempt session engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// Metrics holds every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Submissions     *prometheus.CounterVec
	WriteFailures   *prometheus.CounterVec
	LiveSessions    prometheus.Gauge
	ExpiredAttempts prometheus.Counter
}

// New creates and registers the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "endpoint"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attempt_submissions_total",
				Help: "Attempt submissions by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		WriteFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attempt_write_failures_total",
				Help: "Best-effort persistence writes that failed",
			},
			[]string{"op"},
		),
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attempt_live_sessions",
			Help: "Attempt sessions currently held in memory",
		}),
		ExpiredAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attempt_expiry_sweeps_finalized_total",
			Help: "Abandoned attempts finalized by the expiry sweep",
		}),
	}

	m.registry.MustRegister(
		m.RequestCounter,
		m.RequestDuration,
		m.Submissions,
		m.WriteFailures,
		m.LiveSessions,
		m.ExpiredAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SubmissionSettled implements session.Observer.
func (m *Metrics) SubmissionSettled(trigger session.Trigger, outcome string) {
	m.Submissions.WithLabelValues(string(trigger), outcome).Inc()
}

// WriteFailed implements session.Observer.
func (m *Metrics) WriteFailed(op string) {
	m.WriteFailures.WithLabelValues(op).Inc()
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		m.RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		m.RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
