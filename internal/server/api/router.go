package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the echo instance with all routes and middleware.
func NewRouter(h *Handler, l *Limiters) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(RequestLogger())

	e.GET("/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/api/stats", h.HandleStats)

	e.POST("/share", h.HandleCreateShare, RateLimit("create", l.Create))
	e.GET("/share", h.HandleListShares, RateLimit("list", l.List))
	e.GET("/share/:shareId", h.HandleGetShare, RateLimit("list", l.List))
	e.DELETE("/share/:shareId", h.HandleRevokeShare, RateLimit("revoke", l.Revoke))
	e.POST("/share/:shareId/permanent-delete", h.HandleDeleteShare, RateLimit("revoke", l.Revoke))
	e.GET("/share/:shareId/access", h.HandleAccessLog, RateLimit("access-log", l.AccessLog))
	e.GET("/share/:shareId/download", h.HandleDownload, RateLimit("download", l.Download))

	return e
}
