package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"gopkg.in/yaml.v3"
)

// sampleTemplate renders the commented sample configuration written by
// "bartender init". Values come from GetDefaultConfig.
var sampleTemplate = template.Must(template.New("config").Parse(`# Bartender Configuration File
#
# Every setting can be overridden from the environment with the
# BARTENDER_ prefix, e.g. BARTENDER_LOGGING_LEVEL=DEBUG.

logging:
  # DEBUG, INFO, WARN or ERROR
  level: {{ .Logging.Level }}
  # text or json
  format: {{ .Logging.Format }}
  # stdout, stderr or a file path
  output: {{ .Logging.Output }}

server:
  shutdown_timeout: {{ .Server.ShutdownTimeout }}
  metrics:
    enabled: {{ .Server.Metrics.Enabled }}
    port: {{ .Server.Metrics.Port }}

# Catalog backend: memory (ephemeral) or badger (persistent)
librarian:
  type: {{ .Librarian.Type }}
  badger:
    db_path: {{ index .Librarian.Badger "db_path" }}

# Storage nodes hosted by this process
shepherds:
{{- range .Shepherds }}
  - id: {{ .ID }}
    # memory or s3
    type: {{ .Type }}
    protocols:
{{- range .Protocols }}
      - {{ . }}
{{- end }}
    heartbeat_interval: {{ .HeartbeatInterval }}
    reconcile_interval: {{ .ReconcileInterval }}
{{- end }}
  # - id: s3-1
  #   type: s3
  #   s3:
  #     region: us-east-1
  #     bucket: bartender-replicas
  #     key_prefix: replicas/
  #     endpoint: http://localhost:9000
  #     url_expiry: 15m

bartender:
  # permit_all or policy
  authorization: {{ .Bartender.Authorization }}
  librarian_timeout: {{ .Bartender.LibrarianTimeout }}
  shepherd_timeout: {{ .Bartender.ShepherdTimeout }}
  heartbeat_timeout: {{ .Bartender.HeartbeatTimeout }}

adapters:
  http:
    enabled: {{ .Adapters.HTTP.Enabled }}
    port: {{ .Adapters.HTTP.Port }}
    max_body_bytes: {{ .Adapters.HTTP.MaxBodyBytes }}
    max_batch_size: {{ .Adapters.HTTP.MaxBatchSize }}
    gzip: {{ .Adapters.HTTP.Gzip }}
    rate_limit:
      # sub-requests per second per identity, 0 disables throttling
      requests_per_second: {{ .Adapters.HTTP.RateLimit.RequestsPerSecond }}
      burst: {{ .Adapters.HTTP.RateLimit.Burst }}
    read_timeout: {{ .Adapters.HTTP.ReadTimeout }}
    write_timeout: {{ .Adapters.HTTP.WriteTimeout }}
    idle_timeout: {{ .Adapters.HTTP.IdleTimeout }}
    shutdown_timeout: {{ .Adapters.HTTP.ShutdownTimeout }}
`))

// renderSample renders the sample configuration and checks it is valid
// YAML.
func renderSample() ([]byte, error) {
	var buf bytes.Buffer
	if err := sampleTemplate.Execute(&buf, GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to render sample config: %w", err)
	}

	var probe map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &probe); err != nil {
		return nil, fmt.Errorf("rendered sample config is not valid YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// InitConfig writes the sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := renderSample()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
