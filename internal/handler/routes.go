package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ingress-gateway/internal/config"
	"ingress-gateway/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// gateway's own endpoints are registered ahead of the catch-all proxy route,
// so they bypass proxyMW. The metrics parameter is optional.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics, proxyMW ...echo.MiddlewareFunc) {
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", proxy.Handle, proxyMW...)
}
