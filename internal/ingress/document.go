// Package ingress holds the gateway's routing configuration: the decoded
// ingress document, the routing table built from it, the shared handle that
// request handlers read, and the refresh loop that replaces it.
package ingress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 15 * time.Second
	DefaultCORSMaxAge   = 86400
)

// Format identifies how an ingress document is encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a decoder from a file extension. JSON is the default.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FormatFromContentType picks a decoder from a response Content-Type.
func FormatFromContentType(ct string) Format {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return FormatJSON
	}
	switch {
	case strings.HasSuffix(mt, "toml"):
		return FormatTOML
	case strings.HasSuffix(mt, "yaml"), strings.HasSuffix(mt, "yml"):
		return FormatYAML
	default:
		return FormatJSON
	}
}

// RateLimit is a token-bucket policy.
type RateLimit struct {
	RequestsPerSecond uint32 `json:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint32 `json:"burst" toml:"burst" yaml:"burst"`
}

// CORSPolicy is the gateway-wide CORS configuration.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAgeSecs       uint64
}

// DefaultCORSPolicy allows any origin with the common methods and headers.
func DefaultCORSPolicy() CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAgeSecs:     DefaultCORSMaxAge,
	}
}

// Route is one routing rule. Routes are owned by the Table that holds them
// and must be treated as read-only.
type Route struct {
	PathPrefix     string
	UpstreamBase   string
	StripPrefix    bool
	Headers        map[string]string
	RateLimit      *RateLimit
	Timeout        time.Duration
	AllowWebSocket bool
}

// Config is a decoded ingress document.
type Config struct {
	Routes       []Route
	CORS         CORSPolicy
	RateLimit    *RateLimit
	PollInterval time.Duration
}

// Empty returns the configuration the gateway runs with when nothing could be
// loaded: no routes, default CORS, no global rate limit.
func Empty() *Config {
	return &Config{
		CORS:         DefaultCORSPolicy(),
		PollInterval: DefaultPollInterval,
	}
}

type document struct {
	Routing          *routingDoc `json:"routing" toml:"routing" yaml:"routing"`
	CORS             *corsDoc    `json:"cors" toml:"cors" yaml:"cors"`
	RateLimit        *RateLimit  `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit"`
	PollIntervalSecs *uint64     `json:"poll_interval_secs" toml:"poll_interval_secs" yaml:"poll_interval_secs"`
}

type routingDoc struct {
	Routes []routeDoc `json:"routes" toml:"routes" yaml:"routes"`
}

type routeDoc struct {
	PathPrefix  *string           `json:"path_prefix" toml:"path_prefix" yaml:"path_prefix"`
	UpstreamURL *string           `json:"upstream_url" toml:"upstream_url" yaml:"upstream_url"`
	StripPrefix *bool             `json:"strip_prefix" toml:"strip_prefix" yaml:"strip_prefix"`
	Headers     map[string]string `json:"headers" toml:"headers" yaml:"headers"`
	RateLimit   *RateLimit        `json:"rate_limit" toml:"rate_limit" yaml:"rate_limit"`
	TimeoutMS   *uint64           `json:"timeout_ms" toml:"timeout_ms" yaml:"timeout_ms"`
	WebSocket   bool              `json:"websocket" toml:"websocket" yaml:"websocket"`
}

type corsDoc struct {
	AllowedOrigins   []string `json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" toml:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" toml:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" toml:"allow_credentials" yaml:"allow_credentials"`
	MaxAgeSecs       *uint64  `json:"max_age_secs" toml:"max_age_secs" yaml:"max_age_secs"`
}

// Decode parses and validates an ingress document.
func Decode(data []byte, format Format) (*Config, error) {
	var doc document
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.NewDecoder(bytes.NewReader(data)).Decode(&doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}

	cfg, err := doc.build()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return cfg, nil
}

func (d *document) build() (*Config, error) {
	if d.Routing == nil {
		return nil, errors.New("routing is required")
	}

	cfg := Empty()
	cfg.RateLimit = d.RateLimit
	if d.PollIntervalSecs != nil && *d.PollIntervalSecs > 0 {
		cfg.PollInterval = time.Duration(*d.PollIntervalSecs) * time.Second
	}

	if d.CORS != nil {
		if d.CORS.AllowedOrigins != nil {
			cfg.CORS.AllowedOrigins = d.CORS.AllowedOrigins
		}
		if d.CORS.AllowedMethods != nil {
			cfg.CORS.AllowedMethods = d.CORS.AllowedMethods
		}
		if d.CORS.AllowedHeaders != nil {
			cfg.CORS.AllowedHeaders = d.CORS.AllowedHeaders
		}
		cfg.CORS.AllowCredentials = d.CORS.AllowCredentials
		if d.CORS.MaxAgeSecs != nil {
			cfg.CORS.MaxAgeSecs = *d.CORS.MaxAgeSecs
		}
	}

	cfg.Routes = make([]Route, 0, len(d.Routing.Routes))
	for i, rd := range d.Routing.Routes {
		if rd.PathPrefix == nil {
			return nil, fmt.Errorf("routing.routes[%d]: path_prefix is required", i)
		}
		if rd.UpstreamURL == nil {
			return nil, fmt.Errorf("routing.routes[%d]: upstream_url is required", i)
		}
		r := Route{
			PathPrefix:     strings.TrimSpace(*rd.PathPrefix),
			UpstreamBase:   strings.TrimSpace(*rd.UpstreamURL),
			StripPrefix:    true,
			Headers:        maps.Clone(rd.Headers),
			RateLimit:      rd.RateLimit,
			Timeout:        DefaultTimeout,
			AllowWebSocket: rd.WebSocket,
		}
		if rd.StripPrefix != nil {
			r.StripPrefix = *rd.StripPrefix
		}
		// timeout_ms = 0 means "use the default", same as omitting it.
		if rd.TimeoutMS != nil && *rd.TimeoutMS > 0 {
			r.Timeout = time.Duration(*rd.TimeoutMS) * time.Millisecond
		}
		if r.Headers == nil {
			r.Headers = map[string]string{}
		}
		cfg.Routes = append(cfg.Routes, r)
	}
	return cfg, nil
}

// Validate rejects documents the gateway cannot serve.
func (c *Config) Validate() error {
	if err := c.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	for i, r := range c.Routes {
		if r.PathPrefix != "" && !strings.HasPrefix(r.PathPrefix, "/") {
			return fmt.Errorf("routing.routes[%d]: path_prefix must be empty or start with '/'; got %q", i, r.PathPrefix)
		}
		u, err := url.Parse(r.UpstreamBase)
		if err != nil {
			return fmt.Errorf("routing.routes[%d]: upstream_url is not a valid URL: %w", i, err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("routing.routes[%d]: upstream_url must be an absolute http(s) URL; got %q", i, r.UpstreamBase)
		}
		if u.Host == "" {
			return fmt.Errorf("routing.routes[%d]: upstream_url has no host; got %q", i, r.UpstreamBase)
		}
		if err := r.RateLimit.validate(); err != nil {
			return fmt.Errorf("routing.routes[%d].rate_limit: %w", i, err)
		}
	}
	return nil
}

func (rl *RateLimit) validate() error {
	if rl == nil {
		return nil
	}
	if rl.RequestsPerSecond == 0 {
		return errors.New("requests_per_second must be > 0")
	}
	if rl.Burst == 0 {
		return errors.New("burst must be >= 1")
	}
	return nil
}

// EffectiveRateLimit returns the route's override, else the global default.
// A nil result means the route is not rate limited.
func (c *Config) EffectiveRateLimit(r *Route) *RateLimit {
	if r.RateLimit != nil {
		return r.RateLimit
	}
	return c.RateLimit
}
