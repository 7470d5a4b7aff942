package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airlock-ai/airlock/pkg/coordinator"
	"github.com/airlock-ai/airlock/pkg/models"
)

// doneMarker terminates every streaming response.
const doneMarker = "[DONE]"

// HandleQuery runs one user query. With streamThinking the reply is
// line-delimited JSON events ending in [DONE]; otherwise a single JSON body.
func (s *Server) HandleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid request: "+err.Error()))
		return
	}
	if !models.ValidPhase(req.Phase) {
		c.JSON(http.StatusBadRequest, errorBody("unknown phase: "+req.Phase))
		return
	}

	input := coordinator.QueryInput{
		Query:    req.Query,
		Language: req.Language,
		Phase:    req.Phase,
		User:     userContextFrom(req.UserContext),
		Provider: req.LLMProvider,
	}

	if req.StreamThinking {
		s.streamQuery(c, input)
		return
	}

	result, err := s.coordinator.Process(c.Request.Context(), input, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, coordinator.ErrNoAgents) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, errorBody(err.Error()))
		return
	}

	c.JSON(http.StatusOK, QueryResponse{
		Success:         true,
		Response:        result.Content,
		Blocked:         result.Blocked,
		Declined:        result.Declined,
		AgentUsed:       result.AgentUsed,
		TranslatedQuery: result.TranslatedQuery,
		Metadata:        result.Metadata,
	})
}

// streamQuery writes one JSON event per line and flushes per line so the
// host relays progress immediately. The [DONE] line is always last, also
// after an error event.
func (s *Server) streamQuery(c *gin.Context, input coordinator.QueryInput) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no") // disable proxy buffering

	w := c.Writer
	writeEvent := func(e coordinator.Event) {
		line, err := json.Marshal(e)
		if err != nil {
			s.logger.Error("Failed to marshal stream event", "error", err)
			return
		}
		_, _ = w.Write(append(line, '\n'))
		w.Flush()
	}

	_, err := s.coordinator.Process(c.Request.Context(), input, writeEvent)
	if err != nil {
		// The coordinator already emitted the error event.
		s.logger.Warn("Query failed", "error", err)
	}

	_, _ = w.Write([]byte(doneMarker + "\n"))
	w.Flush()
}

func userContextFrom(body *UserContextBody) *models.UserContext {
	if body == nil {
		return nil
	}
	user := &models.UserContext{
		Name:       body.Name,
		Email:      body.Email,
		Role:       body.Role,
		Department: body.Department,
		EmployeeID: body.EmployeeID,
	}
	for _, turn := range body.History {
		user.History = append(user.History, models.Turn{Role: turn.Role, Content: turn.Content})
	}
	return user
}
