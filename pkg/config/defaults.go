package config

import (
	"strings"
	"time"

	"github.com/marmos91/bartender/pkg/adapter/httpapi"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyLibrarianDefaults(&cfg.Librarian)
	applyShepherdDefaults(cfg.Shepherds)
	applyBartenderDefaults(&cfg.Bartender)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyLibrarianDefaults sets catalog backend defaults.
func applyLibrarianDefaults(cfg *LibrarianConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Applied for every type so generated config files show the option
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/bartender-catalog"
	}
}

// applyShepherdDefaults sets per-node defaults.
func applyShepherdDefaults(shepherds []ShepherdConfig) {
	for i := range shepherds {
		s := &shepherds[i]

		if s.Type == "" {
			s.Type = "memory"
		}
		if s.Type == "memory" && len(s.Protocols) == 0 {
			s.Protocols = []string{"memory"}
		}
		if s.HeartbeatInterval == 0 {
			s.HeartbeatInterval = 10 * time.Second
		}
		if s.ReconcileInterval == 0 {
			s.ReconcileInterval = time.Minute
		}
		if s.Memory == nil {
			s.Memory = make(map[string]any)
		}
		if s.S3 == nil {
			s.S3 = make(map[string]any)
		}
	}
}

// applyBartenderDefaults sets orchestration service defaults.
func applyBartenderDefaults(cfg *BartenderConfig) {
	if cfg.Authorization == "" {
		cfg.Authorization = "permit_all"
	}
	if cfg.LibrarianTimeout == 0 {
		cfg.LibrarianTimeout = 10 * time.Second
	}
	if cfg.ShepherdTimeout == 0 {
		cfg.ShepherdTimeout = 10 * time.Second
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = time.Minute
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the HTTP adapter when it was not configured at all (Port is 0),
	// so a config loaded without a file still passes validation.
	// Users can explicitly set enabled: false to disable it.
	if !cfg.HTTP.Enabled && cfg.HTTP.Port == 0 {
		cfg.HTTP.Enabled = true
	}

	applyHTTPDefaults(&cfg.HTTP)
}

// applyHTTPDefaults sets HTTP adapter defaults. They match the ones
// httpapi.New applies, so the generated config file shows them.
func applyHTTPDefaults(cfg *httpapi.HTTPConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Shepherds: []ShepherdConfig{
			{ID: "shepherd-1", Type: "memory"},
		},
		Adapters: AdaptersConfig{
			HTTP: httpapi.HTTPConfig{
				Enabled: true,
				Gzip:    true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
