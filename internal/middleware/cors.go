package middleware

import (
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"ingress-gateway/internal/ingress"
)

// CORS applies the CORS policy of the request's snapshot. Preflight requests
// are answered here and never reach an upstream. The echo middleware is
// rebuilt only when the snapshot version changes.
func CORS() echo.MiddlewareFunc {
	var (
		mu      sync.Mutex
		version uint64
		cached  echo.MiddlewareFunc
	)
	current := func(snap *ingress.Snapshot) echo.MiddlewareFunc {
		mu.Lock()
		defer mu.Unlock()
		if cached == nil || version != snap.Version {
			cached = echomw.CORSWithConfig(corsConfig(snap.Config.CORS))
			version = snap.Version
		}
		return cached
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := ResolutionFrom(c)
			if res == nil {
				return next(c)
			}
			return current(res.Snapshot)(next)(c)
		}
	}
}

func corsConfig(p ingress.CORSPolicy) echomw.CORSConfig {
	return echomw.CORSConfig{
		AllowOrigins:     p.AllowedOrigins,
		AllowMethods:     p.AllowedMethods,
		AllowHeaders:     p.AllowedHeaders,
		AllowCredentials: p.AllowCredentials,
		ExposeHeaders:    []string{echo.HeaderXRequestID, headerRetryAfter},
		MaxAge:           int(p.MaxAgeSecs),
	}
}
