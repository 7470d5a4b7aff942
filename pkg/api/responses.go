package api

import "github.com/airlock-ai/airlock/pkg/coordinator"

// QueryResponse is the non-streaming reply of POST /api/query.
type QueryResponse struct {
	Success         bool                  `json:"success"`
	Response        string                `json:"response"`
	Blocked         bool                  `json:"blocked,omitempty"`
	Declined        bool                  `json:"declined,omitempty"`
	AgentUsed       string                `json:"agentUsed,omitempty"`
	TranslatedQuery string                `json:"translatedQuery,omitempty"`
	Metadata        *coordinator.Metadata `json:"metadata,omitempty"`
}

// ErrorResponse is the failure shape shared by all endpoints.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   bool   `json:"error"`
}

func errorBody(message string) ErrorResponse {
	return ErrorResponse{Success: false, Message: message, Error: true}
}
