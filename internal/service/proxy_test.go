package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ingress-gateway/internal/client"
	"ingress-gateway/internal/config"
	"ingress-gateway/internal/gwerror"
	"ingress-gateway/internal/ingress"
	"ingress-gateway/internal/model"
)

func newTestService(bodyMax int64) *ProxyService {
	cfg := &config.Config{
		Server:   config.ServerConfig{BodyMaxBytes: bodyMax},
		Upstream: config.UpstreamConfig{IdleConnections: 10, DialTimeoutSeconds: 1},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProxyService(client.NewUpstreamClient(cfg, logger, nil), cfg, logger)
}

func testRequest(path string) *model.ProxyRequest {
	return &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   path,
		Header: http.Header{},
		Body:   http.NoBody,
	}
}

func TestFilterHopHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"application/json"},
		"Connection":        {"keep-alive, X-Session-Hint"},
		"X-Custom":          {"value"},
		"X-Session-Hint":    {"drop-me"},
		"Keep-Alive":        {"timeout=5"},
		"Transfer-Encoding": {"chunked"},
		"Upgrade":           {"h2c"},
		"Authorization":     {"Bearer secret"},
		"Cookie":            {"session=abc"},
	}

	dst := filterHopHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type kept", "Content-Type", 1},
		{"X-Custom kept", "X-Custom", 1},
		{"Authorization kept", "Authorization", 1},
		{"Cookie kept", "Cookie", 1},
		{"Connection stripped", "Connection", 0},
		{"Connection-listed header stripped", "X-Session-Hint", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
		{"Transfer-Encoding stripped", "Transfer-Encoding", 0},
		{"Upgrade stripped", "Upgrade", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	if src.Get("Connection") == "" {
		t.Error("filterHopHeaders modified its input")
	}
}

func TestBuildUpstreamURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		path  string
		query string
		want  string
	}{
		{"basic", "http://svc:8080", "/foo/bar", "", "http://svc:8080/foo/bar"},
		{"with query", "http://svc:8080", "/foo", "x=1", "http://svc:8080/foo?x=1"},
		{"trailing slash on base", "http://svc:8080/", "/bar", "", "http://svc:8080/bar"},
		{"base with path", "http://svc:8080/v2", "/items", "", "http://svc:8080/v2/items"},
		{"path without slash", "http://svc:8080", "bar", "", "http://svc:8080/bar"},
		{"root suffix", "http://svc:8080", "/", "", "http://svc:8080/"},
		{"escaped path kept", "http://svc:8080", "/file%3Fname/a%2Fb/tag%23frag", "x=1", "http://svc:8080/file%3Fname/a%2Fb/tag%23frag?x=1"},
		{"ws base", "ws://svc:8080", "/live", "", "http://svc:8080/live"},
		{"wss base", "wss://svc/", "/live", "", "https://svc/live"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildUpstreamURL(tt.base, tt.path, tt.query)
			if err != nil {
				t.Fatalf("BuildUpstreamURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BuildUpstreamURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRequestHeaders(t *testing.T) {
	s := newTestService(0)
	pr := testRequest("/x")
	pr.Host = "gateway.example.com"
	pr.Scheme = "https"
	pr.RequestID = "req-123"
	pr.Header.Set("X-Env", "client-value")
	pr.Header.Set("Connection", "close")

	route := ingress.Route{Headers: map[string]string{"X-Env": "route-value", "X-Tenant": "acme"}}
	h := s.ForwardHeaders(pr, route)

	want := map[string]string{
		"X-Env":             "route-value",
		"X-Tenant":          "acme",
		"X-Forwarded-Host":  "gateway.example.com",
		"X-Forwarded-Proto": "https",
		"X-Request-Id":      "req-123",
		"Connection":        "",
	}
	for k, v := range want {
		if got := h.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if n := len(h.Values("X-Env")); n != 1 {
		t.Errorf("X-Env has %d values, want 1 (overwrite, not append)", n)
	}
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/42" {
			t.Errorf("upstream path = %q, want %q", r.URL.Path, "/users/42")
		}
		if r.URL.RawQuery != "expand=true" {
			t.Errorf("upstream query = %q, want %q", r.URL.RawQuery, "expand=true")
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("Authorization = %q, want passthrough", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Forwarded-Host") != "gw.local" {
			t.Errorf("X-Forwarded-Host = %q, want %q", r.Header.Get("X-Forwarded-Host"), "gw.local")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	s := newTestService(0)
	pr := testRequest("/users/42")
	pr.RawQuery = "expand=true"
	pr.Host = "gw.local"
	pr.Scheme = "http"
	pr.Header.Set("Authorization", "Bearer token")

	resp, err := s.Forward(pr, ingress.Route{UpstreamBase: upstream.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("X-Upstream") != "yes" {
		t.Error("X-Upstream response header not relayed")
	}
	if resp.Header.Get("Connection") != "" {
		t.Errorf("Connection response header relayed: %q", resp.Header.Get("Connection"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"result":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"result":"ok"}`)
	}
}

func TestForward_RelaysUpstreamErrorVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer upstream.Close()

	s := newTestService(0)
	resp, err := s.Forward(testRequest("/"), ingress.Route{UpstreamBase: upstream.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "maintenance" {
		t.Errorf("body = %q, want %q", string(body), "maintenance")
	}
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	s := newTestService(0)
	_, err := s.Forward(testRequest("/slow"), ingress.Route{UpstreamBase: upstream.URL, Timeout: 50 * time.Millisecond})

	var ge *gwerror.Error
	if !errors.As(err, &ge) {
		t.Fatalf("Forward() error = %v, want *gwerror.Error", err)
	}
	if ge.Kind != gwerror.KindTimeout {
		t.Errorf("Kind = %v, want %v", ge.Kind, gwerror.KindTimeout)
	}
	if ge.StatusCode() != http.StatusGatewayTimeout {
		t.Errorf("StatusCode() = %d, want %d", ge.StatusCode(), http.StatusGatewayTimeout)
	}
}

func TestForward_UpstreamUnavailable(t *testing.T) {
	s := newTestService(0)
	_, err := s.Forward(testRequest("/"), ingress.Route{UpstreamBase: "http://127.0.0.1:1", Timeout: 5 * time.Second})

	var ge *gwerror.Error
	if !errors.As(err, &ge) {
		t.Fatalf("Forward() error = %v, want *gwerror.Error", err)
	}
	if ge.Kind != gwerror.KindUpstreamUnavailable {
		t.Errorf("Kind = %v, want %v", ge.Kind, gwerror.KindUpstreamUnavailable)
	}
	if ge.StatusCode() != http.StatusBadGateway {
		t.Errorf("StatusCode() = %d, want %d", ge.StatusCode(), http.StatusBadGateway)
	}
}

func TestForward_ForwardsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer upstream.Close()

	s := newTestService(1024)
	pr := testRequest("/echo")
	pr.Method = http.MethodPost
	pr.Body = io.NopCloser(strings.NewReader("hello"))
	pr.ContentLength = 5

	resp, err := s.Forward(pr, ingress.Route{UpstreamBase: upstream.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Errorf("body = %q, want %q", string(body), "hello")
	}
}

func TestForward_BodyTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestService(16)
	pr := testRequest("/upload")
	pr.Method = http.MethodPost
	pr.Body = io.NopCloser(strings.NewReader(strings.Repeat("x", 1024)))
	pr.ContentLength = -1

	resp, err := s.Forward(pr, ingress.Route{UpstreamBase: upstream.URL, Timeout: 5 * time.Second})
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("Forward() expected error for oversized body")
	}

	var ge *gwerror.Error
	if !errors.As(err, &ge) || ge.Kind != gwerror.KindPayloadTooLarge {
		t.Fatalf("Forward() error = %v, want payload too large", err)
	}
	if ge.StatusCode() != http.StatusRequestEntityTooLarge {
		t.Errorf("StatusCode() = %d, want %d", ge.StatusCode(), http.StatusRequestEntityTooLarge)
	}
}

func TestForward_BadUpstreamURL(t *testing.T) {
	s := newTestService(0)
	_, err := s.Forward(testRequest("/"), ingress.Route{UpstreamBase: "http://bad host:80", Timeout: time.Second})

	var ge *gwerror.Error
	if !errors.As(err, &ge) || ge.Kind != gwerror.KindConfig {
		t.Fatalf("Forward() error = %v, want config error", err)
	}
}
