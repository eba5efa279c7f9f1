package handler

import (
	"log/slog"
	"net/http"
	"path"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
)

// FallbackHandler serves every request the forwarder declined: health and
// status probes, the metrics endpoint, and static content. It is the
// in-process stand-in for the static host that fronts the proxy.
type FallbackHandler struct {
	cfg            *config.Config
	health         *HealthHandler
	metricsHandler echo.HandlerFunc
	logger         *slog.Logger
}

// NewFallbackHandler creates a FallbackHandler.
func NewFallbackHandler(cfg *config.Config, health *HealthHandler, m *metrics.Metrics, logger *slog.Logger) *FallbackHandler {
	var mh echo.HandlerFunc
	if cfg.Metrics.Enabled {
		mh = echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	return &FallbackHandler{
		cfg:            cfg,
		health:         health,
		metricsHandler: mh,
		logger:         logger.With("component", "fallback_handler"),
	}
}

// Handle dispatches a non-proxy request to the matching reserved route, or
// serves it from the static directory.
func (h *FallbackHandler) Handle(c echo.Context) error {
	p := c.Request().URL.Path

	switch p {
	case "/healthz":
		return h.health.Healthz(c)
	case "/proxy/status":
		return h.health.Status(c)
	}

	if h.metricsHandler != nil && p == h.cfg.Metrics.Path {
		return h.metricsHandler(c)
	}

	return h.serveStatic(c)
}

// serveStatic serves a file from the configured static directory. The URL
// path is cleaned before joining so a crafted path cannot escape the
// directory. Missing files surface as echo's standard 404.
func (h *FallbackHandler) serveStatic(c echo.Context) error {
	if m := c.Request().Method; m != http.MethodGet && m != http.MethodHead {
		return echo.ErrNotFound
	}

	p := path.Clean("/" + c.Request().URL.Path)
	if p == "/" {
		p = "/index.html"
	}

	return c.File(filepath.Join(h.cfg.Static.Dir, filepath.FromSlash(p)))
}
