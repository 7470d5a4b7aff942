// Package e2e boots a complete gateway over a real TCP listener and drives
// it through the HTTP API, with scripted LLM providers and in-process
// downstream agents.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/api"
	"github.com/airlock-ai/airlock/pkg/config"
	"github.com/airlock-ai/airlock/pkg/coordinator"
	"github.com/airlock-ai/airlock/pkg/health"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/registry"
)

// TestApp is a full gateway instance listening on an ephemeral port.
type TestApp struct {
	BaseURL string

	Agents   *registry.Registry
	Sessions *mcp.Manager
	LLM      *ScriptedLLM
	Server   *api.Server
	Monitor  *health.Monitor

	client *http.Client
	t      *testing.T
}

type testAppConfig struct {
	script       []string
	policyClient *policy.Client
	mcpTimeout   time.Duration
	monitorCfg   *health.Config
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithScript pre-loads the LLM with responses consumed in call order.
func WithScript(script ...string) TestAppOption {
	return func(c *testAppConfig) { c.script = script }
}

// WithPolicy installs a policy client instead of the pass-through default.
func WithPolicy(client *policy.Client) TestAppOption {
	return func(c *testAppConfig) { c.policyClient = client }
}

// WithMCPTimeout overrides the downstream call timeout.
func WithMCPTimeout(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.mcpTimeout = d }
}

// WithMonitor starts the health monitor with the given settings. By default
// the monitor is constructed but not started, so tests control sweeps.
func WithMonitor(cfg health.Config) TestAppOption {
	return func(c *testAppConfig) { c.monitorCfg = &cfg }
}

type registryHealthSink struct{ agents *registry.Registry }

func (s registryHealthSink) MarkUnhealthy(agentID, _ string) {
	_ = s.agents.UpdateHealth(agentID, false)
}

// NewTestApp boots a gateway on 127.0.0.1:0. Shutdown is registered via
// t.Cleanup.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{mcpTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.policyClient == nil {
		tc.policyClient = policy.NewClient(config.PolicyConfig{})
	}

	scripted := NewScriptedLLM(tc.script)
	providers := llm.NewRegistry()
	providers.Register(scripted)

	agents := registry.New()
	sessions := mcp.NewManager(tc.mcpTimeout, registryHealthSink{agents})

	coord := coordinator.New(providers, agents, sessions, tc.policyClient, coordinator.Options{})
	server := api.NewServer(coord, agents, sessions, providers)

	monitor := health.NewMonitor(agents, sessions, health.Config{ProbeTimeout: 2 * time.Second})
	if tc.monitorCfg != nil {
		monitor = health.NewMonitor(agents, sessions, *tc.monitorCfg)
		monitor.Start(context.Background())
		t.Cleanup(monitor.Stop)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartListener(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, server.Shutdown(ctx))
		require.NoError(t, <-errCh)
	})

	app := &TestApp{
		BaseURL:  "http://" + ln.Addr().String(),
		Agents:   agents,
		Sessions: sessions,
		LLM:      scripted,
		Server:   server,
		Monitor:  monitor,
		client:   &http.Client{Timeout: 30 * time.Second},
		t:        t,
	}
	app.waitReady()
	return app
}

func (a *TestApp) waitReady() {
	require.Eventually(a.t, func() bool {
		resp, err := a.client.Get(a.BaseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond, "gateway never became ready")
}

// RegisterAgent registers a mock agent through the HTTP API and returns its
// decoded response body.
func (a *TestApp) RegisterAgent(req api.RegisterRequest) *http.Response {
	a.t.Helper()
	resp := a.PostJSON("/api/agents/register", req)
	require.Equal(a.t, http.StatusOK, resp.StatusCode, "register %s", req.AgentID)
	return resp
}

// PostJSON posts a JSON body and returns the response with the body intact.
func (a *TestApp) PostJSON(path string, body any) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	resp, err := a.client.Post(a.BaseURL+path, "application/json", &buf)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// Query runs a non-streaming query and decodes the reply.
func (a *TestApp) Query(req api.QueryRequest) (*api.QueryResponse, int) {
	a.t.Helper()
	resp := a.PostJSON("/api/query", req)
	var body api.QueryResponse
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&body))
	return &body, resp.StatusCode
}

// StreamQuery runs a streaming query and returns the raw NDJSON lines,
// including the terminator line.
func (a *TestApp) StreamQuery(req api.QueryRequest) []string {
	a.t.Helper()
	req.StreamThinking = true
	resp := a.PostJSON("/api/query", req)
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	require.Equal(a.t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []string
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(a.t, err)
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		lines = append(lines, string(line))
	}
	return lines
}

// Events parses every non-terminator line of a streamed reply.
func Events(t *testing.T, lines []string) []coordinator.Event {
	t.Helper()
	var events []coordinator.Event
	for _, line := range lines {
		if line == "[DONE]" {
			continue
		}
		var e coordinator.Event
		require.NoError(t, json.Unmarshal([]byte(line), &e), line)
		events = append(events, e)
	}
	return events
}

// userFor is a minimal identified user context.
func userFor(email string) *api.UserContextBody {
	return &api.UserContextBody{Name: "Alice", Email: email, Department: "Engineering"}
}

// routeTo builds a routing plan naming the given agents.
func routeTo(agents ...[2]string) string {
	type entry struct {
		Agent    string `json:"agent"`
		SubQuery string `json:"subQuery"`
	}
	plan := struct {
		Agents    []entry `json:"agents"`
		Reasoning string  `json:"reasoning"`
	}{Reasoning: "scripted"}
	for _, a := range agents {
		plan.Agents = append(plan.Agents, entry{Agent: a[0], SubQuery: a[1]})
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		panic(fmt.Sprintf("marshal routing plan: %v", err))
	}
	return string(raw)
}
