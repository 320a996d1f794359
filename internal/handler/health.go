package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ingress-gateway/internal/config"
	"ingress-gateway/internal/ingress"
	"ingress-gateway/internal/metrics"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health, readiness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	handle  *ingress.Handle
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, h *ingress.Handle, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, handle: h, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz reports not ready while a configured source has yet to yield any
// routes. A gateway started without a source is always ready.
func (h *HealthHandler) Readyz(c echo.Context) error {
	if h.cfg.Ingress.Source != "" && h.handle.Snapshot().Table.Len() == 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// StatusResponse is the body of the gateway status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Version       string    `json:"version"`
	ConfigVersion uint64    `json:"config_version"`
	Routes        int       `json:"routes"`
	Prefixes      []string  `json:"prefixes"`
	LoadedAt      time.Time `json:"loaded_at"`
	Source        string    `json:"source,omitempty"`
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	snap := h.handle.Snapshot()
	routes := snap.Table.Routes()
	prefixes := make([]string, 0, len(routes))
	for _, r := range routes {
		prefixes = append(prefixes, metrics.RouteLabel(r.NormalizedPrefix(), true))
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:        "ok",
		Version:       string(h.version),
		ConfigVersion: snap.Version,
		Routes:        len(routes),
		Prefixes:      prefixes,
		LoadedAt:      snap.LoadedAt.UTC(),
		Source:        h.cfg.Ingress.Source,
	})
}
