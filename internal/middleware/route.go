package middleware

import (
	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/ingress"
)

const resolutionKey = "gateway.resolution"

// Resolution is the routing decision for one request. It is computed once,
// from a single snapshot, and every later stage reads it from the context.
type Resolution struct {
	Snapshot *ingress.Snapshot
	Route    ingress.Route
	// Suffix is the path to forward upstream.
	Suffix string
	// Prefix is the matched route's normalized prefix; it keys rate limiting
	// and labels metrics.
	Prefix  string
	Matched bool
}

// ResolveRoute takes the active snapshot and matches the request path
// against its routing table. Matching and the forwarded suffix use the
// escaped path, so percent-encoded bytes reach the upstream unchanged.
func ResolveRoute(h *ingress.Handle) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			snap := h.Snapshot()
			route, suffix, ok := snap.Table.Match(c.Request().URL.EscapedPath())
			res := &Resolution{
				Snapshot: snap,
				Route:    route,
				Suffix:   suffix,
				Matched:  ok,
			}
			if ok {
				res.Prefix = route.NormalizedPrefix()
			}
			c.Set(resolutionKey, res)
			return next(c)
		}
	}
}

// ResolutionFrom returns the request's routing decision, or nil when
// ResolveRoute did not run.
func ResolutionFrom(c echo.Context) *Resolution {
	res, _ := c.Get(resolutionKey).(*Resolution)
	return res
}
