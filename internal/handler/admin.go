// Package handler serves the admin HTTP API mirroring the browser-side
// command set: set/reset proxy, clear data, close tabs, egress probe.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"proxy-pilot-go/internal/bridge"
	"proxy-pilot-go/internal/client"
	"proxy-pilot-go/internal/model"
)

// Controller is the controller surface the admin API drives.
type Controller interface {
	SetProxy(ctx context.Context, cfg model.ProxyConfig) error
	ResetProxy(ctx context.Context) error
	Current() *model.ProxyConfig
}

// AdminHandler exposes commander operations over HTTP.
type AdminHandler struct {
	ctrl   Controller
	data   bridge.BrowsingData
	tabs   bridge.Tabs
	egress *client.EgressClient
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ctrl Controller, data bridge.BrowsingData, tabs bridge.Tabs, egress *client.EgressClient, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		ctrl:   ctrl,
		data:   data,
		tabs:   tabs,
		egress: egress,
		logger: logger.With("component", "admin_handler"),
	}
}

// setProxyRequest is the POST /api/v1/proxy body.
type setProxyRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SetProxy installs the requested proxy configuration.
func (h *AdminHandler) SetProxy(c echo.Context) error {
	var req setProxyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}
	if req.Host == "" || req.Port < 1 || req.Port > 65535 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "host and a port in 1–65535 are required",
		})
	}

	cfg := model.ProxyConfig{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
	}
	if err := h.ctrl.SetProxy(c.Request().Context(), cfg); err != nil {
		h.logger.Error("set proxy", "err", err, "proxy", cfg.Redacted())
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "applying proxy settings failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"proxy":  cfg.Redacted(),
	})
}

// ResetProxy reverts to the system proxy.
func (h *AdminHandler) ResetProxy(c echo.Context) error {
	if err := h.ctrl.ResetProxy(c.Request().Context()); err != nil {
		h.logger.Error("reset proxy", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "reverting to system proxy failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ClearData wipes all browsing data since epoch 0.
func (h *AdminHandler) ClearData(c echo.Context) error {
	if err := h.data.ClearAll(c.Request().Context()); err != nil {
		h.logger.Error("clear browsing data", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "clearing browsing data failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// CloseTabs closes all open page tabs.
func (h *AdminHandler) CloseTabs(c echo.Context) error {
	if err := h.tabs.CloseOthers(c.Request().Context(), ""); err != nil {
		h.logger.Error("close tabs", "err", err)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "closing tabs failed",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Egress reports the effective egress IP through the active proxy.
func (h *AdminHandler) Egress(c echo.Context) error {
	info, err := h.egress.Probe(c.Request().Context(), h.ctrl.Current())
	if err != nil {
		h.logger.Error("egress probe", "err", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "egress lookup timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "egress lookup failed",
		})
	}
	return c.JSON(http.StatusOK, info)
}
