package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"ingress-gateway/internal/client"
	"ingress-gateway/internal/config"
	"ingress-gateway/internal/handler"
	"ingress-gateway/internal/ingress"
	"ingress-gateway/internal/metrics"
	"ingress-gateway/internal/middleware"
	"ingress-gateway/internal/ratelimit"
	"ingress-gateway/internal/service"
	"ingress-gateway/internal/websocket"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("ingress-gateway"),
		kong.Description("Ingress gateway with hot-reloadable prefix routing."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newSource,
			newHandle,
			newRefresher,
			newRateLimitRegistry,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			websocket.NewBridge,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, startRefresher, startWatcher, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newSource returns nil when no ingress source is configured; the gateway
// then serves an empty routing table.
func newSource(cfg *config.Config) ingress.Source {
	if cfg.Ingress.Source == "" {
		return nil
	}
	var fetch *http.Client
	if cfg.Ingress.IsRemote() {
		fetch = &http.Client{Timeout: cfg.Ingress.FetchTimeout()}
	}
	return ingress.ParseSource(cfg.Ingress.Source, fetch)
}

func newHandle(cfg *config.Config, src ingress.Source, logger *slog.Logger, m *metrics.Metrics) *ingress.Handle {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Ingress.FetchTimeout())
	defer cancel()

	h := ingress.NewHandle(ingress.LoadInitial(ctx, src, logger))
	ingress.ReportSnapshot(h.Snapshot(), logger, m)
	return h
}

// newRefresher returns nil without a source. The poll interval comes from
// the process config when set, else from the initially loaded document.
func newRefresher(cfg *config.Config, h *ingress.Handle, src ingress.Source, logger *slog.Logger, m *metrics.Metrics) *ingress.Refresher {
	if src == nil {
		return nil
	}
	interval := cfg.Ingress.PollInterval()
	if interval <= 0 {
		interval = h.Snapshot().Config.PollInterval
	}
	return ingress.NewRefresher(h, src, interval, cfg.Ingress.FetchTimeout(), logger, m)
}

func newRateLimitRegistry(cfg *config.Config) *ratelimit.Registry {
	return ratelimit.NewRegistry(
		ratelimit.WithMaxKeys(cfg.RateLimit.MaxKeys),
		ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL()),
	)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(logger)

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays disabled: streamed responses and WebSocket bridges
	// are long-lived, and each route's timeout bounds upstream exchanges.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	return e
}

// registerRoutes installs the per-request pipeline on the proxy route only:
// route resolution, then CORS, auth passthrough and rate limiting.
func registerRoutes(e *echo.Echo, cfg *config.Config, proxy *handler.ProxyHandler, health *handler.HealthHandler, h *ingress.Handle, reg *ratelimit.Registry, m *metrics.Metrics) {
	handler.RegisterRoutes(e, cfg, proxy, health, m,
		middleware.ResolveRoute(h),
		middleware.CORS(),
		middleware.AuthPassthrough(),
		middleware.RateLimit(reg, m),
	)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startRefresher runs the poll loop and turns SIGHUP into an immediate reload.
func startRefresher(lc fx.Lifecycle, r *ingress.Refresher, logger *slog.Logger) {
	if r == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	hup := make(chan os.Signal, 1)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("starting config refresher", "interval", r.Interval())
			go r.Run(ctx)

			signal.Notify(hup, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						logger.Info("SIGHUP received; reloading config")
						r.Trigger()
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			signal.Stop(hup)
			cancel()
			return nil
		},
	})
}

func startWatcher(lc fx.Lifecycle, cfg *config.Config, r *ingress.Refresher, logger *slog.Logger) error {
	if r == nil || !cfg.Ingress.Watch {
		return nil
	}
	w, err := ingress.NewFileWatcher(cfg.Ingress.Source, r, logger)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go w.Run(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			ctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout())
			defer cancel()
			return e.Shutdown(ctx)
		},
	})
}
