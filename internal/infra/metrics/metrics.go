// Package metrics collects Prometheus metrics for session store operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels used for operation outcomes.
const (
	ResultOK                 = "ok"
	ResultDuplicateEmail     = "duplicate_email"
	ResultInvalidCredentials = "invalid_credentials"
	ResultNotAuthenticated   = "not_authenticated"
	ResultInvalidInput       = "invalid_input"
	ResultError              = "error"
)

// Recorder is the metrics interface used by services and transports.
type Recorder interface {
	RecordOperation(operation, result string, duration time.Duration)
	RecordHTTPStatus(route string, statusCode int)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	httpStatus *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booksy_session_operations_total",
			Help: "Session store operations by outcome.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "booksy_session_operation_duration_seconds",
			Help:    "Session store operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booksy_http_responses_total",
			Help: "HTTP responses by route and status code.",
		}, []string{"route", "status_code"}),
	}

	reg.MustRegister(c.operations, c.duration, c.httpStatus)

	return c
}

func (c *Collector) RecordOperation(operation, result string, duration time.Duration) {
	c.operations.WithLabelValues(operation, result).Inc()
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordHTTPStatus(route string, statusCode int) {
	c.httpStatus.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopRecorder discards all metrics.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) RecordOperation(string, string, time.Duration) {}
func (NopRecorder) RecordHTTPStatus(string, int)                  {}
