// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"

	"ingress-gateway/internal/client"
	"ingress-gateway/internal/config"
	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/ingress"
	"ingress-gateway/internal/model"
)

// hopHeaders are connection-scoped and never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

const requestIDHeader = "X-Request-Id"

// errBodyTooLarge is returned by the request body reader once the limit is crossed.
var errBodyTooLarge = errors.New("request body exceeds limit")

// ProxyService forwards requests to the upstream selected by the routing table.
type ProxyService struct {
	client       *client.UpstreamClient
	logger       *slog.Logger
	bodyMaxBytes int64
}

// NewProxyService creates a ProxyService. A non-positive body limit disables
// the request body bound.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:       c,
		logger:       logger.With("component", "proxy_service"),
		bodyMaxBytes: cfg.Server.BodyMaxBytes,
	}
}

// Forward sends pr to route's upstream and returns the response for streaming.
// The caller must close the response body; the route timeout stays in force
// until it does. Upstream non-2xx responses are returned, not treated as
// errors. Failures are returned as *gwerror.Error.
func (s *ProxyService) Forward(pr *model.ProxyRequest, route ingress.Route) (*model.ProxyResponse, error) {
	upstreamURL, err := BuildUpstreamURL(route.UpstreamBase, pr.Path, pr.RawQuery)
	if err != nil {
		return nil, gwerror.Config(err.Error(), err)
	}

	ctx := pr.Ctx
	cancel := context.CancelFunc(func() {})
	if route.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, route.Timeout)
	}

	header := s.ForwardHeaders(pr, route)

	var body io.Reader
	var limited *limitedBody
	if pr.Body != nil && pr.Body != http.NoBody {
		limited = &limitedBody{r: pr.Body, limit: s.bodyMaxBytes}
		body = limited
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"upstream", upstreamURL,
		"request_id", pr.RequestID,
	)

	resp, err := s.client.DoStream(ctx, pr.Method, upstreamURL, header, body, pr.ContentLength)
	if limited != nil && limited.exceeded.Load() {
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
		return nil, gwerror.PayloadTooLarge(s.bodyMaxBytes)
	}
	if err != nil {
		classified := s.classify(ctx, err)
		cancel()
		return nil, classified
	}

	resp.Header = filterResponseHeaders(resp.Header)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// classify maps a transport failure to the gateway taxonomy.
func (s *ProxyService) classify(ctx context.Context, err error) *gwerror.Error {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return gwerror.PayloadTooLarge(s.bodyMaxBytes)
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return gwerror.Timeout(err)
	case errors.Is(err, context.Canceled):
		return gwerror.UpstreamUnavailable("request canceled", err)
	}

	detail := err.Error()
	var ue *url.Error
	if errors.As(err, &ue) {
		detail = ue.Err.Error()
	}
	return gwerror.UpstreamUnavailable(detail, err)
}

// BuildUpstreamURL joins the upstream base, the escaped forwarded path and the
// raw query. A trailing slash on the base is dropped and the path always
// starts with a slash. A ws or wss base is addressed over http or https.
func BuildUpstreamURL(base, path, rawQuery string) (string, error) {
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	raw := base + path
	if rawQuery != "" {
		raw += "?" + rawQuery
	}
	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("bad upstream URL %q: %w", raw, err)
	}
	return raw, nil
}

// ForwardHeaders returns the headers sent upstream: the inbound headers minus
// hop-by-hop ones, then the route's extra headers and the forwarding headers.
// Extra headers overwrite inbound values of the same name.
func (s *ProxyService) ForwardHeaders(pr *model.ProxyRequest, route ingress.Route) http.Header {
	header := filterHopHeaders(pr.Header)

	for k, v := range route.Headers {
		header.Set(k, v)
	}

	if pr.Host != "" {
		header.Set("X-Forwarded-Host", pr.Host)
	}
	if pr.Scheme != "" {
		header.Set("X-Forwarded-Proto", pr.Scheme)
	}
	if pr.RequestID != "" {
		header.Set(requestIDHeader, pr.RequestID)
	}
	return header
}

// filterHopHeaders returns a copy of src without hop-by-hop headers, including
// any listed in its Connection header.
func filterHopHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	return filterHopHeaders(src)
}

// limitedBody fails reads once more than limit bytes have passed through.
type limitedBody struct {
	r        io.Reader
	limit    int64
	read     int64
	exceeded atomic.Bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.limit > 0 && b.read > b.limit {
		b.exceeded.Store(true)
		return n, errBodyTooLarge
	}
	return n, err
}

// cancelOnClose releases the per-route timeout when the response body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
