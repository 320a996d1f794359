package ingress

import (
	"context"
	"log/slog"
	"time"

	"ingress-gateway/internal/metrics"
)

// Refresher periodically re-fetches the ingress document from its source and
// replaces the handle's configuration on success. It is the handle's only
// writer.
type Refresher struct {
	handle   *Handle
	source   Source
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	trigger  chan struct{}
}

// NewRefresher creates a Refresher. A non-positive interval falls back to
// DefaultPollInterval; a non-positive timeout disables the per-fetch deadline.
// The metrics parameter is optional.
func NewRefresher(h *Handle, src Source, interval, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Refresher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Refresher{
		handle:   h,
		source:   src,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "config_refresher"),
		metrics:  m,
		trigger:  make(chan struct{}, 1),
	}
}

// Interval returns the polling interval.
func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// Run polls until ctx is canceled. The initial configuration was loaded
// synchronously before Run starts, so nothing happens until the first full
// interval has elapsed.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.trigger:
		}
		_ = r.Refresh(ctx)
	}
}

// Trigger requests an immediate refresh without waiting for the next tick.
// Triggers coalesce while one is pending.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Refresh performs one fetch. On failure the previous configuration stays
// active and the error is logged and returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cfg, err := r.source.Load(ctx)
	if err != nil {
		r.logger.Warn("failed to reload config; keeping previous version",
			"source", r.source.String(),
			"version", r.handle.Snapshot().Version,
			"err", err,
		)
		if r.metrics != nil {
			r.metrics.ConfigReloads.WithLabelValues("failure").Inc()
		}
		return err
	}

	snap := r.handle.Replace(cfg)
	r.logger.Info("config reloaded", "routes", snap.Table.Len(), "version", snap.Version)
	if r.metrics != nil {
		r.metrics.ConfigReloads.WithLabelValues("success").Inc()
	}
	ReportSnapshot(snap, r.logger, r.metrics)
	return nil
}

// ReportSnapshot logs configuration smells of snap and updates the config
// gauges. The metrics parameter is optional.
func ReportSnapshot(snap *Snapshot, logger *slog.Logger, m *metrics.Metrics) {
	for _, p := range snap.Table.DuplicatePrefixes() {
		if p == "" {
			p = "/"
		}
		logger.Warn("duplicate path_prefix; only the first registered route is reachable",
			"path_prefix", p,
			"version", snap.Version,
		)
	}
	if m != nil {
		m.ConfigVersion.Set(float64(snap.Version))
		m.Routes.Set(float64(snap.Table.Len()))
	}
}
