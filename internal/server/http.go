package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prefix namespaces the local API so it never collides with app paths.
const Prefix = "/__ctr"

// DefaultBodyLimit applies when Config.BodyLimit is unset.
const DefaultBodyLimit int64 = 32 << 20

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	BodyLimit int64
	Logger    *slog.Logger
}

// New builds the server. Requests outside Prefix go to the shell handler.
func New(h *Handler, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	log := slog.Default()
	bodyLimit := DefaultBodyLimit
	if cfg != nil {
		if cfg.Logger != nil {
			log = cfg.Logger
		}
		if cfg.BodyLimit > 0 {
			bodyLimit = cfg.BodyLimit
		}
	}
	h.log = log

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if cache := c.Response().Header().Get("X-Ctr-Cache"); cache != "" {
				attrs = append(attrs, "cache", cache)
			}
			if v.Error != nil {
				log.Warn("request", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodyLimit, 10)))

	api := e.Group(Prefix)
	api.GET("/health", h.Health)
	api.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api.GET("/lifecycle", h.Lifecycle)
	api.POST("/lifecycle/activate", h.Activate)

	api.GET("/api/records", h.ListRecords)
	api.PUT("/api/records", h.SaveRecord)
	api.GET("/api/records/:key", h.GetRecord)
	api.DELETE("/api/records/:key", h.DeleteRecord)

	api.GET("/api/documents", h.ListDocuments)
	api.PUT("/api/documents", h.StoreDocument)
	api.GET("/api/documents/:id", h.GetDocument)
	api.DELETE("/api/documents/:id", h.DeleteDocument)
	api.POST("/api/documents/:id/url", h.DocumentURL)

	api.GET("/blob/:id", h.GetBlob)
	api.DELETE("/blob/:id", h.RevokeBlob)

	api.GET("/api/drafts/:key", h.GetDraft)
	api.PUT("/api/drafts/:key", h.PutDraft)
	api.DELETE("/api/drafts/:key", h.DeleteDraft)

	e.Any("/*", echo.WrapHandler(h.shell.Handler()))

	return &Server{echo: e, handler: h}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
