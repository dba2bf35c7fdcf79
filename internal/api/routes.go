package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer builds the Echo instance with routes, middleware, and the JSON
// error handler installed.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	RegisterRoutes(e, h)
	return e
}

// RegisterRoutes registers all API routes with the Echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/healthz", h.HandleHealth)

	uploads := e.Group("/api/uploads")
	uploads.POST("", h.HandleUpload)
	uploads.GET("/:id", h.HandleGetJob)
}
