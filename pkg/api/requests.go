package api

import "github.com/airlock-ai/airlock/pkg/registry"

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query          string           `json:"query" binding:"required"`
	Language       string           `json:"language"`
	Phase          string           `json:"phase"`
	UserContext    *UserContextBody `json:"userContext"`
	StreamThinking bool             `json:"streamThinking"`
	LLMProvider    string           `json:"llmProvider"`
}

// UserContextBody mirrors models.UserContext on the wire.
type UserContextBody struct {
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Department string     `json:"department"`
	EmployeeID string     `json:"employeeId"`
	History    []TurnBody `json:"history"`
}

// TurnBody is one prior conversation turn.
type TurnBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RegisterRequest is the body of POST /api/agents/register.
type RegisterRequest struct {
	AgentID      string                  `json:"agentId" binding:"required"`
	Name         string                  `json:"name" binding:"required"`
	Description  string                  `json:"description"`
	URL          string                  `json:"url" binding:"required"`
	Capabilities []string                `json:"capabilities"`
	LLMProviders []registry.ProviderInfo `json:"LLMProviders"`
}
