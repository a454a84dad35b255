package router

import (
	"fmt"
	"net/http"

	"calendar/internal/interfaces/api/handler"
	"calendar/internal/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Config holds the dependencies for the router.
type Config struct {
	NoteHandler   *handler.NoteHandler
	StreamHandler *handler.StreamHandler
	LineHandler   *handler.LineHandler // nil when LINE is not configured
	Logger        logger.Logger
}

// NewRouter creates and configures a new Echo router.
func NewRouter(cfg *Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogHost:      true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			cfg.Logger.Info(fmt.Sprintf("REQUEST: method=%s, uri=%s, status=%d, latency=%s, req_id=%s",
				v.Method, v.URI, v.Status, v.Latency, v.RequestID,
			))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Line-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	notes := e.Group("/api/notes")
	notes.POST("", cfg.NoteHandler.Create)
	notes.GET("", cfg.NoteHandler.List)
	notes.GET("/export", cfg.NoteHandler.Export)
	notes.GET("/:id", cfg.NoteHandler.Get)
	notes.PUT("/:id", cfg.NoteHandler.Update)
	notes.DELETE("/:id", cfg.NoteHandler.Delete)

	notifications := e.Group("/notifications")
	notifications.GET("/stream", cfg.StreamHandler.Stream)
	notifications.POST("/connections/:id/topics", cfg.StreamHandler.Join)

	// LINE Webhook Endpoint
	// Note: LINE Platform requires POST for webhook
	if cfg.LineHandler != nil {
		e.POST("/callback", cfg.LineHandler.HandleWebhook)
	}

	cfg.Logger.Info("Router initialized with routes.")
	return e
}
