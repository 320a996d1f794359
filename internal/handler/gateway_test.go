package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/client"
	"ingress-gateway/internal/config"
	"ingress-gateway/internal/ingress"
	"ingress-gateway/internal/metrics"
	"ingress-gateway/internal/middleware"
	"ingress-gateway/internal/ratelimit"
	"ingress-gateway/internal/service"
	"ingress-gateway/internal/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{BodyMaxBytes: 1024},
		Upstream: config.UpstreamConfig{IdleConnections: 10, DialTimeoutSeconds: 2},
		WebSocket: config.WebSocketConfig{
			HandshakeTimeoutSeconds: 2,
			ReadBufferSize:          1024,
			WriteBufferSize:         1024,
			WriteTimeoutSeconds:     2,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testGateway struct {
	echo    *echo.Echo
	handle  *ingress.Handle
	metrics *metrics.Metrics
}

// newTestGateway assembles the same stack main builds, minus the listener.
func newTestGateway(cfg *config.Config, doc *ingress.Config) *testGateway {
	logger := discardLogger()
	m := metrics.New()
	h := ingress.NewHandle(doc)

	svc := service.NewProxyService(client.NewUpstreamClient(cfg, logger, m), cfg, logger)
	proxy := NewProxyHandler(svc, websocket.NewBridge(cfg, logger, m), cfg, logger)
	health := NewHealthHandler(cfg, h, "1.2.3")

	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)
	e.Use(middleware.RequestID(), middleware.RequestLogger(logger), middleware.MetricsMiddleware(m))
	RegisterRoutes(e, cfg, proxy, health, m,
		middleware.ResolveRoute(h),
		middleware.CORS(),
		middleware.AuthPassthrough(),
		middleware.RateLimit(ratelimit.NewRegistry(), m),
	)
	return &testGateway{echo: e, handle: h, metrics: m}
}

func routesDoc(routes ...ingress.Route) *ingress.Config {
	doc := ingress.Empty()
	doc.Routes = routes
	return doc
}

func route(prefix, upstream string) ingress.Route {
	return ingress.Route{
		PathPrefix:   prefix,
		UpstreamBase: upstream,
		StripPrefix:  true,
		Timeout:      5 * time.Second,
	}
}

func (g *testGateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.echo.ServeHTTP(rec, req)
	return rec
}
