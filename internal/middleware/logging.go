// Package middleware provides the gateway's Echo middleware: request ids,
// route resolution, CORS, auth passthrough, rate limiting, logging and metrics.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", responseStatus(c, err),
				"route", routeLabel(c),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFrom(c),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if present, ok := c.Get(authPresentKey).(bool); ok {
				attrs = append(attrs, "auth", present)
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
