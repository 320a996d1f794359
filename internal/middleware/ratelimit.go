package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/metrics"
	"ingress-gateway/internal/ratelimit"
)

const headerRetryAfter = "Retry-After"

// RateLimit enforces the matched route's token-bucket policy: the route's
// own override, else the document's global default, else no limit. Buckets
// are keyed by the route's normalized prefix. Denied requests get 429 with
// Retry-After. The metrics parameter is optional.
func RateLimit(reg *ratelimit.Registry, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := ResolutionFrom(c)
			if res == nil || !res.Matched {
				return next(c)
			}
			rl := res.Snapshot.Config.EffectiveRateLimit(&res.Route)
			if rl == nil {
				return next(c)
			}

			policy := ratelimit.Policy{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
			d := reg.Allow(policy, res.Prefix)
			if d.Allowed {
				return next(c)
			}

			secs := int(d.RetryAfter.Seconds())
			c.Response().Header().Set(headerRetryAfter, strconv.Itoa(secs))
			if m != nil {
				m.RateLimited.WithLabelValues(metrics.RouteLabel(res.Prefix, true)).Inc()
			}
			return gwerror.RateLimited()
		}
	}
}
