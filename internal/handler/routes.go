package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, admin *AdminHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.POST("/api/v1/proxy", admin.SetProxy)
	e.DELETE("/api/v1/proxy", admin.ResetProxy)
	e.POST("/api/v1/clear-data", admin.ClearData)
	e.POST("/api/v1/tabs/close", admin.CloseTabs)
	e.GET("/api/v1/egress", admin.Egress)
}
