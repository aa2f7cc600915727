// Package api exposes the registry over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/goregistry/internal/logger"
)

// Server wraps the HTTP server serving the registry API.
type Server struct {
	httpServer *http.Server
	logger     logger.Interface
}

// ServerOptions holds HTTP server options.
type ServerOptions struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates the HTTP server with all registry routes registered.
func NewServer(opts ServerOptions, handler *Handler, log logger.Interface) *Server {
	router := NewRouter(handler, log)

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Address,
			Handler:      router,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		logger: log,
	}
}

// NewRouter builds the gin engine with all registry routes registered.
func NewRouter(handler *Handler, log logger.Interface) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	registerRoutes(router, handler)

	return router
}

// registerRoutes wires the API routes.
func registerRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/urls", handler.SubmitURL)
		v1.GET("/urls", handler.ListURLs)
		v1.GET("/urls/:id", handler.GetURL)
		v1.DELETE("/urls/:id", handler.DeleteURL)
		v1.PATCH("/urls/:id/check", handler.RequestCheck)
		v1.GET("/urls/:id/metadata", handler.GetMetadata)
	}
}

// Start starts serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger(log logger.Interface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
