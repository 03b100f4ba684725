// Package httpapi exposes the Bartender operations over HTTP.
//
// Every operation is served at POST /v1/<operation>. The request body is a
// wire.RequestDoc and the response body a wire.ResponseDoc, encoded with
// the codec named by Content-Type (request) and Accept (response).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/internal/ratelimiter"
	"github.com/marmos91/bartender/pkg/adapter"
	"github.com/marmos91/bartender/pkg/metrics"
	"github.com/marmos91/bartender/pkg/registry"
)

// IdentityHeader carries the caller identity evaluated by the
// authorization hook. Authenticating it is up to the deployment (a
// fronting proxy terminating client certificates, for example).
const IdentityHeader = "X-Bartender-Identity"

// HTTPAdapter implements adapter.Adapter for the HTTP transport.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. http.Server.Shutdown stops accepting requests and waits for
//     in-flight batches (up to ShutdownTimeout)
//  3. Remaining connections are closed forcibly after the timeout
//
// Thread safety:
// All methods are safe for concurrent use. Stop() is idempotent.
type HTTPAdapter struct {
	config   HTTPConfig
	service  adapter.Service
	registry *registry.Registry
	metrics  metrics.HTTPMetrics
	limiter  *ratelimiter.RateLimiter

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	stopOnce sync.Once
	stopped  chan struct{}
}

// HTTPConfig holds configuration parameters for the HTTP adapter.
//
// Default values (applied by New if zero):
//   - Port: 8080
//   - MaxBodyBytes: 4 MiB
//   - MaxBatchSize: 1000
//   - ReadTimeout: 30s
//   - WriteTimeout: 2m
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
type HTTPConfig struct {
	// Enabled controls whether the HTTP adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the TCP port to listen on. A negative port binds a free
	// port (tests).
	Port int `mapstructure:"port" validate:"max=65535"`

	// MaxBodyBytes bounds the size of a request document.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`

	// MaxBatchSize bounds the number of sub-requests per document.
	MaxBatchSize int `mapstructure:"max_batch_size" validate:"min=0"`

	// Gzip compresses responses for clients that accept it.
	Gzip bool `mapstructure:"gzip"`

	// RateLimit throttles sub-requests per caller identity.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout is the maximum duration for writing a response. It
	// must leave room for the upstream calls of a whole batch.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes keep-alive connections idle for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for in-flight
	// batches during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// RateLimitConfig configures per-identity throttling.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained sub-request rate per identity.
	// 0 disables throttling.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket size. 0 means RequestsPerSecond.
	Burst uint `mapstructure:"burst"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *HTTPConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 4 << 20
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 1000
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 2 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *HTTPConfig) validate() error {
	if c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be <= 65535", c.Port)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid MaxBodyBytes %d: must be >= 0", c.MaxBodyBytes)
	}
	if c.MaxBatchSize < 0 {
		return fmt.Errorf("invalid MaxBatchSize %d: must be >= 0", c.MaxBatchSize)
	}
	return nil
}

// New creates an HTTPAdapter. A nil metrics collector disables metrics.
//
// Panics if config validation fails.
func New(config HTTPConfig, httpMetrics metrics.HTTPMetrics) *HTTPAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid HTTP config: %v", err))
	}

	if httpMetrics == nil {
		httpMetrics = noopHTTPMetrics{}
	}

	return &HTTPAdapter{
		config:  config,
		metrics: httpMetrics,
		limiter: ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		stopped: make(chan struct{}),
	}
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(string, int, time.Duration) {}
func (noopHTTPMetrics) RecordRequestStart(string)                {}
func (noopHTTPMetrics) RecordRequestEnd(string)                  {}
func (noopHTTPMetrics) RecordThrottled()                         {}

// SetService injects the service and the registry.
func (a *HTTPAdapter) SetService(svc adapter.Service, reg *registry.Registry) {
	a.service = svc
	a.registry = reg
	logger.Debug("HTTP adapter service configured")
}

// Serve listens on the configured port and serves until ctx is cancelled
// or Stop() is called.
func (a *HTTPAdapter) Serve(ctx context.Context) error {
	if a.service == nil {
		return errors.New("HTTP adapter: SetService must be called before Serve")
	}

	addr := fmt.Sprintf(":%d", a.config.Port)
	if a.config.Port < 0 {
		addr = "127.0.0.1:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create HTTP listener on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	a.mu.Lock()
	select {
	case <-a.stopped:
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.server = server
	a.mu.Unlock()

	logger.Info("HTTP adapter listening on %s", listener.Addr())
	logger.Debug("HTTP config: max_body_bytes=%d max_batch_size=%d gzip=%v rate_limit=%d/s",
		a.config.MaxBodyBytes, a.config.MaxBatchSize, a.config.Gzip, a.config.RateLimit.RequestsPerSecond)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("HTTP shutdown signal received: %v", ctx.Err())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
			defer cancel()
			_ = a.Stop(shutdownCtx)
		case <-a.stopped:
		}
	}()

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	return err
}

// Stop shuts the server down gracefully, closing remaining connections
// when ctx expires.
func (a *HTTPAdapter) Stop(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.mu.Lock()
		close(a.stopped)
		server := a.server
		a.mu.Unlock()
		if server == nil {
			return
		}

		logger.Debug("HTTP adapter shutting down")
		if err = server.Shutdown(ctx); err != nil {
			logger.Warn("HTTP graceful shutdown incomplete: %v", err)
			_ = server.Close()
		}
	})
	return err
}

// Protocol returns "HTTP".
func (a *HTTPAdapter) Protocol() string {
	return "HTTP"
}

// Port returns the bound port once serving, the configured one before.
func (a *HTTPAdapter) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		if tcp, ok := a.listener.Addr().(*net.TCPAddr); ok {
			return tcp.Port
		}
	}
	return a.config.Port
}
