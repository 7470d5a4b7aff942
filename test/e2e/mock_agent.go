package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/api"
	"github.com/airlock-ai/airlock/pkg/mcp"
)

// MockAgent is an in-process downstream MCP agent. It answers initialize and
// resources/read over plain JSON or SSE framing and exposes GET /health for
// the monitor.
type MockAgent struct {
	ID     string
	Name   string
	Answer string

	// SSE switches responses to event-stream framing. Set before the first
	// request.
	SSE bool
	// Fail makes every RPC return HTTP 500. Set before the first request.
	Fail bool

	srv *httptest.Server
	t   *testing.T

	mu         sync.Mutex
	unhealthy  bool
	inits      int
	reads      int
	lastURI    string
	sessionIDs []string
}

// NewMockAgent starts the agent's HTTP server. Close is registered via
// t.Cleanup.
func NewMockAgent(t *testing.T, id, name, answer string) *MockAgent {
	t.Helper()
	a := &MockAgent{ID: id, Name: name, Answer: answer, t: t}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

// URL is the agent's base URL.
func (a *MockAgent) URL() string { return a.srv.URL }

// Close shuts the agent down early, before the t.Cleanup hook.
func (a *MockAgent) Close() { a.srv.Close() }

// RegisterWith registers the agent at the gateway through the HTTP API.
func (a *MockAgent) RegisterWith(app *TestApp, capabilities ...string) {
	a.t.Helper()
	app.RegisterAgent(api.RegisterRequest{
		AgentID:      a.ID,
		Name:         a.Name,
		Description:  a.Name + " domain agent",
		URL:          a.srv.URL,
		Capabilities: capabilities,
	})
}

func (a *MockAgent) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/health" {
		a.mu.Lock()
		unhealthy := a.unhealthy
		a.mu.Unlock()
		if unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if a.Fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	var req mcp.Request
	require.NoError(a.t, json.NewDecoder(r.Body).Decode(&req))

	var result any
	switch req.Method {
	case "initialize":
		a.mu.Lock()
		a.inits++
		sessionID := fmt.Sprintf("%s-sess-%d", a.ID, a.inits)
		a.mu.Unlock()
		result = map[string]any{"sessionId": sessionID}
	case "resources/read":
		a.mu.Lock()
		a.reads++
		if params, ok := req.Params.(map[string]any); ok {
			a.lastURI, _ = params["uri"].(string)
		}
		a.sessionIDs = append(a.sessionIDs, r.Header.Get("mcp-session-id"))
		a.mu.Unlock()
		result = mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
			{URI: "agent://query", Text: a.Answer},
		}}
	default:
		a.t.Errorf("unexpected RPC method %q", req.Method)
		return
	}

	raw, err := json.Marshal(result)
	require.NoError(a.t, err)
	body, err := json.Marshal(mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
	require.NoError(a.t, err)

	if a.SSE {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// SetUnhealthy toggles the /health probe result. Safe to call while the
// monitor is probing.
func (a *MockAgent) SetUnhealthy(unhealthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unhealthy = unhealthy
}

// InitCount reports how many initialize calls arrived.
func (a *MockAgent) InitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inits
}

// ReadCount reports how many resources/read calls arrived.
func (a *MockAgent) ReadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

// LastURI returns the most recent resources/read URI.
func (a *MockAgent) LastURI() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastURI
}

// SessionIDs returns the mcp-session-id header of every resources/read call.
func (a *MockAgent) SessionIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sessionIDs))
	copy(out, a.sessionIDs)
	return out
}
