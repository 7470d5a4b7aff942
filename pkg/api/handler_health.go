package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airlock-ai/airlock/pkg/version"
)

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if s.draining.Load() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":            status,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"server":            version.AppName,
		"protocol":          version.ProtocolVersion,
		"version":           version.Full(),
		"registeredServers": s.agents.Len(),
	})
}
