package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/bartender/pkg/adapter/httpapi"
	"github.com/spf13/viper"
)

// Config represents the complete Bartender configuration.
//
// This structure captures all configurable aspects of the Bartender server:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics)
//   - Librarian backend selection and configuration (backend-specific)
//   - Shepherd nodes run in-process (backend-specific)
//   - Orchestration service tunables
//   - Transport adapter configurations
//
// Configuration sources (in order of precedence):
//  1. Environment variables (BARTENDER_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Config struct holds
// type-specific maps (e.g., librarian.badger, shepherds[].s3) and only the
// map matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Librarian selects the catalog backend
	Librarian LibrarianConfig `mapstructure:"librarian"`

	// Shepherds lists the storage nodes hosted by this process
	Shepherds []ShepherdConfig `mapstructure:"shepherds" validate:"dive"`

	// Bartender contains the orchestration service tunables
	Bartender BartenderConfig `mapstructure:"bartender"`

	// Adapters contains transport adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns metrics collection and the /metrics endpoint on
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port of the metrics endpoint
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// LibrarianConfig specifies the catalog backend.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific map is used.
type LibrarianConfig struct {
	// Type specifies which Librarian implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Memory contains memory-specific configuration (none today)
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger"`
}

// ShepherdConfig defines one storage node hosted in-process.
type ShepherdConfig struct {
	// ID is the service ID the node heartbeats under
	ID string `mapstructure:"id" validate:"required,excludes=/"`

	// Type specifies which Shepherd implementation to use
	// Valid values: memory, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory s3"`

	// Protocols lists the transfer protocols of a memory node
	Protocols []string `mapstructure:"protocols"`

	// HeartbeatInterval is how often the node refreshes its heartbeat
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`

	// ReconcileInterval is how often the node reconciles its replicas
	// with the catalog
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`

	// Memory contains memory-specific configuration (none today)
	Memory map[string]any `mapstructure:"memory"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`
}

// BartenderConfig contains the orchestration service tunables.
type BartenderConfig struct {
	// Authorization selects the authorization hook
	// Valid values: permit_all, policy
	Authorization string `mapstructure:"authorization" validate:"required,oneof=permit_all policy"`

	// LibrarianTimeout bounds every Librarian call
	LibrarianTimeout time.Duration `mapstructure:"librarian_timeout" validate:"gt=0"`

	// ShepherdTimeout bounds every Shepherd call
	ShepherdTimeout time.Duration `mapstructure:"shepherd_timeout" validate:"gt=0"`

	// HeartbeatTimeout is the maximum heartbeat age of a Shepherd
	// eligible for new replicas
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" validate:"gt=0"`
}

// AdaptersConfig contains all transport adapter configurations.
type AdaptersConfig struct {
	// HTTP contains the HTTP transport configuration.
	// Uses the httpapi.HTTPConfig type directly to avoid duplication.
	HTTP httpapi.HTTPConfig `mapstructure:"http"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the BARTENDER_ prefix and underscores
	// Example: BARTENDER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BARTENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only overrides keys viper knows about
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/bartender/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings that can be overridden from the
// environment without appearing in the config file.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"librarian.type",
	"bartender.authorization",
	"bartender.librarian_timeout",
	"bartender.shepherd_timeout",
	"bartender.heartbeat_timeout",
	"adapters.http.enabled",
	"adapters.http.port",
	"adapters.http.gzip",
	"adapters.http.rate_limit.requests_per_second",
	"adapters.http.rate_limit.burst",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - use defaults. An explicit
		// path that does not exist surfaces as fs.ErrNotExist instead.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "bartender")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "bartender")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
