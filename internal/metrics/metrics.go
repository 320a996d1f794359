// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for API latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	RateLimited *prometheus.CounterVec

	ConfigReloads *prometheus.CounterVec
	ConfigVersion prometheus.Gauge
	Routes        prometheus.Gauge

	WebSocketActive   prometheus.Gauge
	WebSocketSessions *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_gateway_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "route"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingress_gateway_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingress_gateway_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_gateway_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route.",
		}, []string{"route"}),

		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_gateway_config_reloads_total",
			Help: "Configuration refresh attempts by result.",
		}, []string{"result"}),

		ConfigVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_gateway_config_version",
			Help: "Version of the active ingress configuration.",
		}),

		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_gateway_routes",
			Help: "Number of routes in the active routing table.",
		}),

		WebSocketActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_gateway_websocket_bridges_active",
			Help: "Number of WebSocket bridges currently relaying frames.",
		}),

		WebSocketSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingress_gateway_websocket_sessions_total",
			Help: "WebSocket bridge sessions by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.RateLimited,
		m.ConfigReloads,
		m.ConfigVersion,
		m.Routes,
		m.WebSocketActive,
		m.WebSocketSessions,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// UnmatchedRoute labels requests that matched no configured route.
const UnmatchedRoute = "unmatched"

// RouteLabel returns the route label for a matched, normalized path prefix.
// The set of prefixes is bounded by the routing table, so raw request paths
// never reach a label.
func RouteLabel(prefix string, matched bool) string {
	if !matched {
		return UnmatchedRoute
	}
	if prefix == "" {
		return "/"
	}
	return prefix
}
