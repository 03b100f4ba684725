package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics provides observability for the HTTP transport adapter.
type HTTPMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - operation: Operation name taken from the route (e.g., "stat")
	//   - code: HTTP status code written
	//   - duration: Time taken to serve the request
	RecordRequest(operation string, code int, duration time.Duration)

	// RecordRequestStart increments the in-flight gauge.
	RecordRequestStart(operation string)

	// RecordRequestEnd decrements the in-flight gauge.
	RecordRequestEnd(operation string)

	// RecordThrottled records a request rejected by the rate limiter.
	RecordThrottled()
}

type httpMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec
	throttledTotal   prometheus.Counter
}

// NewHTTPMetrics creates adapter metrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled.
func NewHTTPMetrics() HTTPMetrics {
	if !IsEnabled() {
		return noopHTTPMetrics{}
	}
	return NewHTTPMetricsWith(GetRegistry())
}

// NewHTTPMetricsWith creates adapter metrics on reg.
func NewHTTPMetricsWith(reg prometheus.Registerer) HTTPMetrics {
	return &httpMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bartender_http_requests_total",
				Help: "Total number of HTTP requests by operation and status code",
			},
			[]string{"operation", "code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bartender_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bartender_http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
			[]string{"operation"},
		),
		throttledTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "bartender_http_throttled_total",
				Help: "Total number of HTTP requests rejected by the rate limiter",
			},
		),
	}
}

func (m *httpMetrics) RecordRequest(operation string, code int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *httpMetrics) RecordRequestStart(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Inc()
}

func (m *httpMetrics) RecordRequestEnd(operation string) {
	m.requestsInFlight.WithLabelValues(operation).Dec()
}

func (m *httpMetrics) RecordThrottled() {
	m.throttledTotal.Inc()
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(operation string, code int, duration time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart(operation string)                              {}
func (noopHTTPMetrics) RecordRequestEnd(operation string)                                {}
func (noopHTTPMetrics) RecordThrottled()                                                 {}
