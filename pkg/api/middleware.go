package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// requestLogger logs one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// rejectWhileDraining returns 503 for new queries during graceful shutdown.
func (s *Server) rejectWhileDraining() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.draining.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				errorBody("server is shutting down"))
			return
		}
		c.Next()
	}
}
