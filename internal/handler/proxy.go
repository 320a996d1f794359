package handler

import (
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/config"
	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/middleware"
	"ingress-gateway/internal/model"
	"ingress-gateway/internal/service"
	"ingress-gateway/internal/websocket"
)

// ProxyHandler forwards matched requests to their upstream, either as a
// plain HTTP exchange or through the WebSocket bridge.
type ProxyHandler struct {
	service             *service.ProxyService
	bridge              *websocket.Bridge
	trustForwardedProto bool
	logger              *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, bridge *websocket.Bridge, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:             svc,
		bridge:              bridge,
		trustForwardedProto: cfg.Server.TrustForwardedProto,
		logger:              logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request to the route chosen by middleware.ResolveRoute
// and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	res := middleware.ResolutionFrom(c)
	if res == nil || !res.Matched {
		return gwerror.RouteNotFound(req.URL.Path)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          res.Suffix,
		RawQuery:      req.URL.RawQuery,
		Host:          req.Host,
		Scheme:        h.scheme(c),
		RequestID:     middleware.RequestIDFrom(c),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	if res.Route.AllowWebSocket && websocket.IsUpgradeRequest(req) {
		return h.serveWebSocket(c, pr, res)
	}

	resp, err := h.service.Forward(pr, res.Route)
	if err != nil {
		h.logger.Warn("proxy error",
			"err", err,
			"path", req.URL.Path,
			"route", res.Prefix,
		)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// Headers the gateway already wrote (request id, CORS) win over upstream
	// copies. Vary is a list and is merged.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		if _, owned := header[key]; owned && key != echo.HeaderVary {
			continue
		}
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a mid-stream failure can only
	// truncate the body.
	if _, err := io.Copy(flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) serveWebSocket(c echo.Context, pr *model.ProxyRequest, res *middleware.Resolution) error {
	target, err := service.BuildUpstreamURL(res.Route.UpstreamBase, pr.Path, pr.RawQuery)
	if err != nil {
		return gwerror.Config(err.Error(), err)
	}
	return h.bridge.Serve(c.Response(), c.Request(), target, h.service.ForwardHeaders(pr, res.Route))
}

func (h *ProxyHandler) scheme(c echo.Context) string {
	if h.trustForwardedProto {
		return c.Scheme()
	}
	if c.IsTLS() {
		return "https"
	}
	return "http"
}

// flushWriter pushes each chunk to the client as it arrives so streamed
// upstream responses are not held back.
type flushWriter struct {
	w *echo.Response
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		f.w.Flush()
	}
	return n, err
}
