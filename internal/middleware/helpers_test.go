package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/ingress"
)

func testHandle(routes ...ingress.Route) *ingress.Handle {
	cfg := ingress.Empty()
	cfg.Routes = routes
	return ingress.NewHandle(cfg)
}

// newTestEcho renders returned errors the way the gateway does, so tests can
// assert on status codes of gwerror values.
func newTestEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = c.NoContent(he.Code)
			return
		}
		gwerror.From(err).WriteJSON(c.Response(), RequestIDFrom(c))
	}
	return e
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

var apiRoute = ingress.Route{
	PathPrefix:   "/api/",
	UpstreamBase: "http://api:8080",
	StripPrefix:  true,
	Timeout:      30 * time.Second,
}
