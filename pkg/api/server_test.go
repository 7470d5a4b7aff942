package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/config"
	"github.com/airlock-ai/airlock/pkg/coordinator"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/registry"
)

type staticLLM struct{ text string }

func (s *staticLLM) Tag() string { return "openai" }

func (s *staticLLM) Generate(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: s.text, PromptTokens: 10, CompletionTokens: 5}, nil
}

// newTestServer builds a server whose LLM always declines routing, so query
// tests need no downstream agent.
func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	agents := registry.New()
	providers := llm.NewRegistry()
	providers.Register(&staticLLM{text: `{"agents": [], "reasoning": "declined for testing"}`})

	sessions := mcp.NewManager(time.Minute, nil)
	t.Cleanup(sessions.Close)

	coord := coordinator.New(providers, agents, sessions,
		policy.NewClient(config.PolicyConfig{}), coordinator.Options{})
	return NewServer(coord, agents, sessions, providers), agents
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, agents := newTestServer(t)
	require.NoError(t, agents.Register(registry.Agent{ID: "a1", Name: "HR", BaseURL: "http://x"}))

	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "airlock", body["server"])
	assert.Equal(t, "2025-06-18", body["protocol"])
	assert.EqualValues(t, 1, body["registeredServers"])
}

func TestRegisterUnregisterHeartbeat(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/agents/register", RegisterRequest{
		AgentID: "hr-1", Name: "HR", URL: "http://hr.local",
		Capabilities: []string{"hr"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registered"`)

	// Duplicate display name from a different agent is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/agents/register", RegisterRequest{
		AgentID: "hr-2", Name: "hr", URL: "http://other.local",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/agents/hr-1/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = doJSON(t, router, http.MethodPost, "/api/agents/hr-1/unregister", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/agents/hr-1/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/agents/register",
		map[string]string{"name": "HR"}) // missing agentId and url
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProviders(t *testing.T) {
	srv, agents := newTestServer(t)
	require.NoError(t, agents.Register(registry.Agent{
		ID: "a1", Name: "HR", BaseURL: "http://x",
		Providers: []registry.ProviderInfo{{ID: "anthropic", Name: "Anthropic"}},
	}))

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/llm-providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success         bool `json:"success"`
		Providers       []struct{ ID string }
		DefaultProvider string `json:"default_provider"`
		Count           int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "openai", body.DefaultProvider)
	assert.Equal(t, 2, body.Count) // gateway openai + advertised anthropic
}

func TestListProvidersEmptyRegistry(t *testing.T) {
	agents := registry.New()
	providers := llm.NewRegistry()
	sessions := mcp.NewManager(time.Minute, nil)
	t.Cleanup(sessions.Close)
	coord := coordinator.New(providers, agents, sessions,
		policy.NewClient(config.PolicyConfig{}), coordinator.Options{})
	srv := NewServer(coord, agents, sessions, providers)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/llm-providers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryNonStreaming(t *testing.T) {
	srv, agents := newTestServer(t)
	require.NoError(t, agents.Register(registry.Agent{ID: "a1", Name: "HR", BaseURL: "http://x"}))

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/query", QueryRequest{
		Query:       "what can you do?",
		UserContext: &UserContextBody{Email: "a@b.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.Declined)
	assert.Equal(t, "declined for testing", body.Response)
	require.NotNil(t, body.Metadata)
	assert.Equal(t, body.Metadata.CoordinatorTokens+body.Metadata.AgentTokens,
		body.Metadata.TotalTokens)
}

func TestQueryStreamingFraming(t *testing.T) {
	srv, agents := newTestServer(t)
	require.NoError(t, agents.Register(registry.Agent{ID: "a1", Name: "HR", BaseURL: "http://x"}))

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/query", QueryRequest{
		Query:          "what can you do?",
		StreamThinking: true,
		UserContext:    &UserContextBody{Email: "a@b.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])

	responses := 0
	for _, line := range lines[:len(lines)-1] {
		var event coordinator.Event
		require.NoError(t, json.Unmarshal([]byte(line), &event), line)
		if event.Type == "response" {
			responses++
		}
	}
	assert.Equal(t, 1, responses)
}

func TestQueryStreamingErrorEventBeforeDone(t *testing.T) {
	srv, _ := newTestServer(t) // empty registry: no agents available

	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/query", QueryRequest{
		Query:          "anything",
		StreamThinking: true,
		UserContext:    &UserContextBody{Email: "a@b.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])

	var event coordinator.Event
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-2]), &event))
	assert.Equal(t, "error", event.Type)
	require.NotNil(t, event.Success)
	assert.False(t, *event.Success)
}

func TestQueryRejectsUnknownPhase(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Router(), http.MethodPost, "/api/query", QueryRequest{
		Query: "hello", Phase: "phase9",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDrainingRejectsQueries(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()
	srv.draining.Store(true)

	rec := doJSON(t, router, http.MethodPost, "/api/query", QueryRequest{Query: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Registration is still allowed while draining.
	rec = doJSON(t, router, http.MethodPost, "/api/agents/register", RegisterRequest{
		AgentID: "a1", Name: "HR", URL: "http://x",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
