package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BartenderMetrics provides observability for the orchestration service.
//
// This interface is optional - a nil value passed to the service is
// replaced by a no-op implementation.
type BartenderMetrics interface {
	// RecordBatch records one batched operation call.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "putFile", "delFile")
	//   - size: Number of sub-requests in the batch
	//   - duration: Time taken to process the whole batch
	RecordBatch(operation string, size int, duration time.Duration)

	// RecordResult records the status of one sub-request.
	//
	// Parameters:
	//   - operation: Operation name
	//   - status: Status string returned to the caller
	RecordResult(operation, status string)

	// RecordUpstreamCall records one call to a Librarian or a Shepherd.
	//
	// Parameters:
	//   - service: "librarian" or "shepherd"
	//   - method: Called method (e.g., "TraverseLN", "Put")
	//   - duration: Time taken
	//   - err: Error if the call failed
	RecordUpstreamCall(service, method string, duration time.Duration, err error)

	// RecordConsistencyGap records a partially applied multi-entry change
	// that needs operator attention.
	//
	// Parameters:
	//   - operation: Operation that left the gap
	RecordConsistencyGap(operation string)
}

// bartenderMetrics is the Prometheus implementation of BartenderMetrics.
type bartenderMetrics struct {
	batchesTotal     *prometheus.CounterVec
	batchSize        *prometheus.HistogramVec
	batchDuration    *prometheus.HistogramVec
	resultsTotal     *prometheus.CounterVec
	upstreamTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	consistencyGaps  *prometheus.CounterVec
}

// NewBartenderMetrics creates service metrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled.
func NewBartenderMetrics() BartenderMetrics {
	if !IsEnabled() {
		return NoopBartenderMetrics()
	}
	return NewBartenderMetricsWith(GetRegistry())
}

// NewBartenderMetricsWith creates service metrics on reg.
func NewBartenderMetricsWith(reg prometheus.Registerer) BartenderMetrics {
	return &bartenderMetrics{
		batchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bartender_batches_total",
				Help: "Total number of batched operation calls by operation",
			},
			[]string{"operation"},
		),
		batchSize: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bartender_batch_size",
				Help:    "Number of sub-requests per batch",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"operation"},
		),
		batchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bartender_batch_duration_seconds",
				Help: "Duration of batched operation calls in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		resultsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bartender_results_total",
				Help: "Total number of sub-request results by operation and status",
			},
			[]string{"operation", "status"},
		),
		upstreamTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bartender_upstream_calls_total",
				Help: "Total number of Librarian and Shepherd calls by service, method and status",
			},
			[]string{"service", "method", "status"},
		),
		upstreamDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bartender_upstream_call_duration_seconds",
				Help: "Duration of Librarian and Shepherd calls in seconds",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
				},
			},
			[]string{"service", "method"},
		),
		consistencyGaps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bartender_consistency_gaps_total",
				Help: "Multi-entry changes left partially applied, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *bartenderMetrics) RecordBatch(operation string, size int, duration time.Duration) {
	m.batchesTotal.WithLabelValues(operation).Inc()
	m.batchSize.WithLabelValues(operation).Observe(float64(size))
	m.batchDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *bartenderMetrics) RecordResult(operation, status string) {
	m.resultsTotal.WithLabelValues(operation, StatusLabel(status)).Inc()
}

func (m *bartenderMetrics) RecordUpstreamCall(service, method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.upstreamTotal.WithLabelValues(service, method, status).Inc()
	m.upstreamDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

func (m *bartenderMetrics) RecordConsistencyGap(operation string) {
	m.consistencyGaps.WithLabelValues(operation).Inc()
}

// StatusLabel reduces a status string to its fixed prefix so embedded
// error text does not explode label cardinality:
// "put error: dial tcp ..." becomes "put error".
func StatusLabel(status string) string {
	if i := strings.IndexAny(status, ":("); i >= 0 {
		status = status[:i]
	}
	return strings.TrimSpace(status)
}

// noopBartenderMetrics is a no-op implementation with zero overhead.
type noopBartenderMetrics struct{}

// NoopBartenderMetrics returns an implementation that records nothing.
func NoopBartenderMetrics() BartenderMetrics { return noopBartenderMetrics{} }

func (noopBartenderMetrics) RecordBatch(operation string, size int, duration time.Duration) {}
func (noopBartenderMetrics) RecordResult(operation, status string)                          {}
func (noopBartenderMetrics) RecordUpstreamCall(string, string, time.Duration, error)        {}
func (noopBartenderMetrics) RecordConsistencyGap(operation string)                          {}
