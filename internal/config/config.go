// Package config handles process configuration: an optional TOML file plus
// command-line and environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/ingress-gateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML process config file.',env='CONFIG_PATH'"`
	ConfigURL string `kong:"name='config-url',help='Ingress document source: file path or http(s) URL (overrides config).',env='CONFIG_URL'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Ingress   IngressConfig   `toml:"ingress"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	WebSocket WebSocketConfig `toml:"websocket"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host                   string `toml:"host"`
	Port                   int    `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes           int64  `toml:"body_max_bytes"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	// TrustForwardedProto takes X-Forwarded-Proto from the inbound request
	// when set; otherwise the scheme reflects the listener.
	TrustForwardedProto bool `toml:"trust_forwarded_proto"`
}

// IngressConfig controls where the ingress document comes from and how often
// it is re-read.
type IngressConfig struct {
	Source              string `toml:"source"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"` // 0 = use the document's poll_interval_secs
	Watch               bool   `toml:"watch"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
}

// UpstreamConfig holds upstream connection settings. Per-request deadlines
// come from each route's timeout.
type UpstreamConfig struct {
	IdleConnections    int `toml:"idle_connections"`
	DialTimeoutSeconds int `toml:"dial_timeout_seconds"`
}

// WebSocketConfig holds WebSocket bridge settings.
type WebSocketConfig struct {
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
	ReadBufferSize          int `toml:"read_buffer_size"`
	WriteBufferSize         int `toml:"write_buffer_size"`
	WriteTimeoutSeconds     int `toml:"write_timeout_seconds"`
}

// RateLimitConfig bounds the limiter's bucket storage. Policies themselves
// come from the ingress document.
type RateLimitConfig struct {
	MaxKeys        int `toml:"max_keys"`
	IdleTTLSeconds int `toml:"idle_ttl_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file, if any, and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/ingress-gateway/config.toml then configs/config.toml. Running without
// a file is allowed; defaults and flags then describe the whole process.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.ConfigURL != "" {
		c.Ingress.Source = cli.ConfigURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
	}
	nonNegative := []struct {
		name  string
		value int64
	}{
		{"server.body_max_bytes", c.Server.BodyMaxBytes},
		{"server.shutdown_timeout_seconds", int64(c.Server.ShutdownTimeoutSeconds)},
		{"ingress.poll_interval_seconds", int64(c.Ingress.PollIntervalSeconds)},
		{"ingress.fetch_timeout_seconds", int64(c.Ingress.FetchTimeoutSeconds)},
		{"upstream.idle_connections", int64(c.Upstream.IdleConnections)},
		{"upstream.dial_timeout_seconds", int64(c.Upstream.DialTimeoutSeconds)},
		{"websocket.handshake_timeout_seconds", int64(c.WebSocket.HandshakeTimeoutSeconds)},
		{"websocket.read_buffer_size", int64(c.WebSocket.ReadBufferSize)},
		{"websocket.write_buffer_size", int64(c.WebSocket.WriteBufferSize)},
		{"websocket.write_timeout_seconds", int64(c.WebSocket.WriteTimeoutSeconds)},
		{"rate_limit.max_keys", int64(c.RateLimit.MaxKeys)},
		{"rate_limit.idle_ttl_seconds", int64(c.RateLimit.IdleTTLSeconds)},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return fmt.Errorf("%s must be non-negative; got %d", f.name, f.value)
		}
	}

	if c.Ingress.Watch && c.Ingress.IsRemote() {
		return fmt.Errorf("ingress.watch only applies to file sources; got %q", c.Ingress.Source)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range ReservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// ReservedPaths are served by the gateway itself and never proxied.
var ReservedPaths = []string{"/healthz", "/readyz", "/gateway/status"}

// setDefaults fills zero-valued fields with defaults. For integer fields zero
// means "unset" because TOML cannot distinguish an explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MiB
	}
	if c.Server.ShutdownTimeoutSeconds == 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Ingress.FetchTimeoutSeconds == 0 {
		c.Ingress.FetchTimeoutSeconds = 10
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.DialTimeoutSeconds == 0 {
		c.Upstream.DialTimeoutSeconds = 30
	}
	if c.WebSocket.HandshakeTimeoutSeconds == 0 {
		c.WebSocket.HandshakeTimeoutSeconds = 10
	}
	if c.WebSocket.ReadBufferSize == 0 {
		c.WebSocket.ReadBufferSize = 4096
	}
	if c.WebSocket.WriteBufferSize == 0 {
		c.WebSocket.WriteBufferSize = 4096
	}
	if c.WebSocket.WriteTimeoutSeconds == 0 {
		c.WebSocket.WriteTimeoutSeconds = 10
	}
	if c.RateLimit.MaxKeys == 0 {
		c.RateLimit.MaxKeys = 10000
	}
	if c.RateLimit.IdleTTLSeconds == 0 {
		c.RateLimit.IdleTTLSeconds = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FilePath returns the config file that was loaded, or "" when running on
// defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// PollInterval returns the configured override, or 0 when the document's
// value should be used.
func (c *IngressConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// FetchTimeout bounds each load of the ingress document.
func (c *IngressConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// IsRemote reports whether the source is an http(s) URL.
func (c *IngressConfig) IsRemote() bool {
	return strings.HasPrefix(c.Source, "http://") || strings.HasPrefix(c.Source, "https://")
}

// IdleTTL returns how long an unused rate-limit bucket is kept.
func (c *RateLimitConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
