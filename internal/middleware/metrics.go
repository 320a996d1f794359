package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			status := strconv.Itoa(responseStatus(c, err))
			method := metrics.NormalizeMethod(c.Request().Method)
			route := routeLabel(c)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, route).Inc()
			m.RequestDuration.WithLabelValues(method, status, route).Observe(duration)

			return err
		}
	}
}

// responseStatus resolves the status the client will see. A returned error
// has not been rendered yet; the central error handler writes it later.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return gwerror.From(err).StatusCode()
}

// routeLabel is the matched route prefix for proxied requests and the
// registered path for the gateway's own endpoints.
func routeLabel(c echo.Context) string {
	if res := ResolutionFrom(c); res != nil {
		return metrics.RouteLabel(res.Prefix, res.Matched)
	}
	if p := c.Path(); p != "" {
		return p
	}
	return metrics.UnmatchedRoute
}
