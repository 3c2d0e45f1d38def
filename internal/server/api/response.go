package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// All responses use the {success, data|message, error?} envelope.

func respondData(c echo.Context, status int, data any) error {
	return c.JSON(status, echo.Map{
		"success": true,
		"data":    data,
	})
}

func respondMessage(c echo.Context, status int, message string) error {
	return c.JSON(status, echo.Map{
		"success": true,
		"message": message,
	})
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, echo.Map{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// respondNotFound is the single uniform not-found response. Every
// security-sensitive rejection funnels through here so the body shape can
// never leak why something failed.
func respondNotFound(c echo.Context) error {
	return respondError(c, http.StatusNotFound, "NOT_FOUND", "The requested resource was not found")
}
