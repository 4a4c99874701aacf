package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"xs2event-gateway/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	rules   Pinger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, rules Pinger) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, rules: rules}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information. It answers 503 when the rule
// store cannot be reached.
func (h *HealthHandler) Status(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, store, code := "ok", "ok", http.StatusOK
	if err := h.rules.Ping(ctx); err != nil {
		status, store, code = "degraded", "unavailable", http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]string{
		"status":       status,
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"rule_store":   store,
	})
}
