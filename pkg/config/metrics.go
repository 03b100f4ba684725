package config

import (
	"github.com/marmos91/bartender/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Bartender is the service metrics collector (never nil, noop if disabled)
	Bartender metrics.BartenderMetrics

	// HTTP is the HTTP adapter metrics collector (nil if disabled)
	HTTP metrics.HTTPMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Bartender: metrics.NoopBartenderMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:    metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		Bartender: metrics.NewBartenderMetrics(),
		HTTP:      metrics.NewHTTPMetrics(),
	}
}
