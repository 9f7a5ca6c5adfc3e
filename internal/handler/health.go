package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"proxy-pilot-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	ctrl    Controller
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, ctrl Controller, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, ctrl: ctrl, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns commander status information. Passwords never leave the
// process; the active proxy is reported in redacted form.
func (h *HealthHandler) Status(c echo.Context) error {
	proxy := "system"
	if cfg := h.ctrl.Current(); cfg != nil {
		proxy = cfg.Redacted()
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":         "ok",
		"version":        string(h.version),
		"proxy":          proxy,
		"command_scheme": h.cfg.Command.Scheme,
	})
}
