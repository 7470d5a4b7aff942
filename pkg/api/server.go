// Package api is the gateway's HTTP front door: the streaming query
// endpoint, agent registration, the provider catalog and health.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-ai/airlock/pkg/coordinator"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/registry"
	"github.com/airlock-ai/airlock/pkg/version"
)

// Server wires the HTTP surface to the coordinator and registries.
type Server struct {
	coordinator *coordinator.Coordinator
	agents      *registry.Registry
	sessions    *mcp.Manager
	providers   *llm.Registry

	draining atomic.Bool
	httpSrv  *http.Server
	logger   *slog.Logger
}

// NewServer creates the API server.
func NewServer(coord *coordinator.Coordinator, agents *registry.Registry,
	sessions *mcp.Manager, providers *llm.Registry) *Server {
	return &Server{
		coordinator: coord,
		agents:      agents,
		sessions:    sessions,
		providers:   providers,
		logger:      slog.Default(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.Health)

	apiGroup := router.Group("/api")
	apiGroup.POST("/query", s.rejectWhileDraining(), s.HandleQuery)
	apiGroup.POST("/agents/register", s.RegisterAgent)
	apiGroup.POST("/agents/:agentId/unregister", s.UnregisterAgent)
	apiGroup.POST("/agents/:agentId/heartbeat", s.Heartbeat)
	apiGroup.GET("/llm-providers", s.ListProviders)
	return router
}

// Start listens on the port and serves until Shutdown. Blocks.
func (s *Server) Start(port int) error {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.httpSrv.Addr, "version", version.Full())

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartListener serves on an existing listener. Used by tests to bind port 0.
func (s *Server) StartListener(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains: new queries get 503, in-flight requests finish within the
// context deadline, then downstream sessions are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.sessions.Close()
	return err
}

// Draining reports whether the server is refusing new queries.
func (s *Server) Draining() bool {
	return s.draining.Load()
}
