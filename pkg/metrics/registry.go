// Package metrics exposes Prometheus metrics for the Bartender service and
// its transport adapters.
//
// Metrics are off until InitRegistry is called. Before that every
// constructor returns a no-op collector, so components record
// unconditionally and pay nothing when metrics are disabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	svc := bartender.New(lib, reg, cfg, bartender.WithMetrics(metrics.NewBartenderMetrics()))
//	adapter := httpapi.New(httpCfg, metrics.NewHTTPMetrics())
//	server := metrics.NewServer(metrics.ServerConfig{Port: 9090})
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry, preloaded with the Go
// runtime and process collectors. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "bartender"}),
		)
		registry = r
	})
}

// GetRegistry returns the process-wide registry, or nil before
// InitRegistry.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
