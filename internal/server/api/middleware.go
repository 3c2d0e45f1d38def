package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"roomdrop/internal/server/config"
	"roomdrop/internal/server/limits"
)

// Limiters holds one fixed-window limiter per share operation, all keyed by
// client IP with per-operation ceilings.
type Limiters struct {
	Create    *limits.Window
	List      *limits.Window
	Revoke    *limits.Window
	AccessLog *limits.Window
	Download  *limits.Window
}

// NewLimiters builds the per-operation limiters from config.
func NewLimiters(cfg *config.Config) *Limiters {
	return &Limiters{
		Create:    limits.NewWindow(cfg.RateWindow, cfg.CreateLimit),
		List:      limits.NewWindow(cfg.RateWindow, cfg.ListLimit),
		Revoke:    limits.NewWindow(cfg.RateWindow, cfg.RevokeLimit),
		AccessLog: limits.NewWindow(cfg.RateWindow, cfg.AccessLogLimit),
		Download:  limits.NewWindow(cfg.RateWindow, cfg.DownloadLimit),
	}
}

// Sweepers exposes the limiter maps for the janitor.
func (l *Limiters) Sweepers() []limits.Sweeper {
	return []limits.Sweeper{l.Create, l.List, l.Revoke, l.AccessLog, l.Download}
}

// RateLimit returns middleware enforcing the given fixed-window limiter.
func RateLimit(operation string, w *limits.Window) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !w.Check(ip) {
				slog.Warn("rate limit exceeded", "operation", operation, "ip", ip)
				setRetryAfter(c, w.RetryAfter(ip))
				return respondError(c, http.StatusTooManyRequests,
					"RATE_LIMITED", "Too many requests, try again later")
			}
			return next(c)
		}
	}
}

// setRetryAfter writes a Retry-After header rounded up to whole seconds.
func setRetryAfter(c echo.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	secs := int(math.Ceil(d.Seconds()))
	c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
}

// RequestLogger returns middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			slog.Info("request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"user_agent", req.UserAgent(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
