package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airlock-ai/airlock/pkg/registry"
)

// RegisterAgent handles POST /api/agents/register.
func (s *Server) RegisterAgent(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request: "+err.Error()))
		return
	}

	err := s.agents.Register(registry.Agent{
		ID:           req.AgentID,
		Name:         req.Name,
		Description:  req.Description,
		BaseURL:      req.URL,
		Capabilities: req.Capabilities,
		Providers:    req.LLMProviders,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrDuplicateName) {
			status = http.StatusConflict
		}
		c.JSON(status, errorBody(err.Error()))
		return
	}

	// A re-registration may follow a restart; any old session is stale.
	s.sessions.Invalidate(req.AgentID)

	c.JSON(http.StatusOK, gin.H{"status": "registered", "agentId": req.AgentID})
}

// UnregisterAgent handles POST /api/agents/:agentId/unregister.
func (s *Server) UnregisterAgent(c *gin.Context) {
	agentID := c.Param("agentId")

	if err := s.agents.Unregister(agentID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, errorBody(err.Error()))
		return
	}
	s.sessions.Invalidate(agentID)

	c.JSON(http.StatusOK, gin.H{"status": "unregistered", "agentId": agentID})
}

// Heartbeat handles POST /api/agents/:agentId/heartbeat.
func (s *Server) Heartbeat(c *gin.Context) {
	agentID := c.Param("agentId")

	if err := s.agents.Heartbeat(agentID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "agent not registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "heartbeat recorded"})
}
