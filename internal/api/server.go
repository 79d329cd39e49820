package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/newsletter/internal/config"
)

// Server represents the API server
type Server struct {
	config  config.ApplicationConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg config.ApplicationConfig, deps Deps) *Server {
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = cfg.AllowedOrigins
	}
	handler := SetupRoutes(deps)
	return &Server{
		config:  cfg,
		handler: handler,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe starts the HTTP server. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
