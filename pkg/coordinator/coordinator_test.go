package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/config"
	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/mcp"
	"github.com/airlock-ai/airlock/pkg/models"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/registry"
)

// scriptedLLM replays canned responses in call order. When the script runs
// out it echoes a relevance-validation approval so the pipeline completes.
type scriptedLLM struct {
	mu      sync.Mutex
	script  []string
	calls   int
	prompts []string
	models  []string
}

func (s *scriptedLLM) Tag() string { return "openai" }

func (s *scriptedLLM) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	s.models = append(s.models, req.Model)
	text := `{"isRelevant": true, "keyInformation": "", "confidence": 1, "reasoning": "ok"}`
	if s.calls < len(s.script) {
		text = s.script[s.calls]
	}
	s.calls++
	return &llm.Response{Text: text, PromptTokens: 30, CompletionTokens: 10, Provider: "openai"}, nil
}

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// testAgent is an in-process downstream MCP agent.
type testAgent struct {
	t      *testing.T
	answer string
	fail   bool

	mu        sync.Mutex
	reads     int
	inits     int
	lastQuery string
}

func (a *testAgent) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.fail {
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
			a.mu.Unlock()
			result = map[string]any{"sessionId": "sess"}
		case "resources/read":
			params, _ := req.Params.(map[string]any)
			a.mu.Lock()
			a.reads++
			if params != nil {
				a.lastQuery, _ = params["uri"].(string)
			}
			a.mu.Unlock()
			result = mcp.ReadResourceResult{Contents: []mcp.ResourceContents{
				{URI: "test://query", Text: a.answer},
			}}
		}
		raw, err := json.Marshal(result)
		require.NoError(a.t, err)
		w.Header().Set("Content-Type", "application/json")
		resp, _ := json.Marshal(mcp.Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
		_, _ = w.Write(resp)
	}
}

func (a *testAgent) readCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

type fixture struct {
	coordinator *Coordinator
	agents      *registry.Registry
	llm         *scriptedLLM
	hr          *testAgent
	it          *testAgent
}

func newFixture(t *testing.T, script []string, policyClient *policy.Client) *fixture {
	return newFixtureOpts(t, script, policyClient, Options{})
}

func newFixtureOpts(t *testing.T, script []string, policyClient *policy.Client, opts Options) *fixture {
	t.Helper()

	hr := &testAgent{t: t, answer: "You have 12 vacation days left."}
	it := &testAgent{t: t, answer: "Two tickets await manager approval."}
	hrSrv := httptest.NewServer(hr.handler())
	itSrv := httptest.NewServer(it.handler())
	t.Cleanup(hrSrv.Close)
	t.Cleanup(itSrv.Close)

	agents := registry.New()
	require.NoError(t, agents.Register(registry.Agent{
		ID: "hr-1", Name: "HR", Description: "Employee matters", BaseURL: hrSrv.URL,
		Capabilities: []string{"hr"},
	}))
	require.NoError(t, agents.Register(registry.Agent{
		ID: "it-1", Name: "IT", Description: "Tickets", BaseURL: itSrv.URL,
		Capabilities: []string{"it"},
	}))

	scripted := &scriptedLLM{script: script}
	providers := llm.NewRegistry()
	providers.Register(scripted)

	sessions := mcp.NewManager(time.Minute, registryHealthSink{agents})
	t.Cleanup(sessions.Close)

	if policyClient == nil {
		policyClient = policy.NewClient(config.PolicyConfig{})
	}

	return &fixture{
		coordinator: New(providers, agents, sessions, policyClient, opts),
		agents:      agents,
		llm:         scripted,
		hr:          hr,
		it:          it,
	}
}

type registryHealthSink struct{ agents *registry.Registry }

func (s registryHealthSink) MarkUnhealthy(agentID, _ string) {
	_ = s.agents.UpdateHealth(agentID, false)
}

// blockingPolicyClient scans like the real backend: prompts containing
// SECRET-X are blocked, everything else is allowed.
func blockingPolicyClient(t *testing.T) *policy.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Prompt   string `json:"prompt"`
				Response string `json:"response"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		action := "allow"
		category := "benign"
		if len(req.Contents) > 0 && strings.Contains(req.Contents[0].Prompt+req.Contents[0].Response, "SECRET-X") {
			action = "block"
			category = "sensitive-data"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"report_id": "R", "category": %q, "action": %q}`, category, action)
	}))
	t.Cleanup(srv.Close)

	return policy.NewClient(config.PolicyConfig{
		APIURL: srv.URL, APIToken: "tok", ProfileID: "p1",
	})
}

func collectEvents(events *[]Event, mu *sync.Mutex) func(Event) {
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, e)
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestSingleAgentHappyPath(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "vacation days for this user"}], "reasoning": "hr"}`,
	}, nil)

	var (
		events []Event
		mu     sync.Mutex
	)
	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query:    "How many vacation days do I have?",
		Language: "en",
		Phase:    models.Phase2,
		User:     &models.UserContext{Email: "a@b.com"},
	}, collectEvents(&events, &mu))
	require.NoError(t, err)

	assert.Equal(t, "You have 12 vacation days left.", result.Content)
	assert.Equal(t, "HR", result.AgentUsed)
	assert.False(t, result.Blocked)
	assert.False(t, result.Declined)
	assert.Equal(t, 1, f.hr.readCount())
	assert.Zero(t, f.it.readCount())

	require.NotNil(t, result.Metadata)
	assert.Greater(t, result.Metadata.AgentTokens, 0)
	assert.Greater(t, result.Metadata.CoordinatorTokens, 0)
	assert.Equal(t, result.Metadata.CoordinatorTokens+result.Metadata.AgentTokens,
		result.Metadata.TotalTokens)
	// phase2 runs no checkpoints
	assert.Empty(t, result.Metadata.SecurityCheckpoints)

	types := eventTypes(events)
	assert.GreaterOrEqual(t, countOf(types, "thinking"), 2)
	assert.Equal(t, 1, countOf(types, "response"))
	assert.Equal(t, "response", types[len(types)-1])
}

func TestParallelSynthesis(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "who is the manager"}, {"agent": "IT", "subQuery": "tickets needing approval"}], "reasoning": "both"}`,
		`Your manager is Dana and two tickets await their approval.`,
	}, nil)

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Who is my manager and which tickets require approval?",
		Phase: models.Phase2,
		User:  &models.UserContext{Email: "a@b.com"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Your manager is Dana and two tickets await their approval.", result.Content)
	assert.Equal(t, 1, f.hr.readCount())
	assert.Equal(t, 1, f.it.readCount())
	assert.Contains(t, result.AgentUsed, "HR")
	assert.Contains(t, result.AgentUsed, "IT")
}

func TestDeclinedQuery(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [], "reasoning": "cooking advice is out of scope"}`,
	}, nil)

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Best pasta recipe?",
		User:  &models.UserContext{Email: "a@b.com"},
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.Declined)
	assert.Equal(t, "cooking advice is out of scope", result.Content)
	assert.Zero(t, f.hr.readCount())
	assert.Zero(t, f.it.readCount())
}

func TestPersonalGuardWithoutIdentity(t *testing.T) {
	f := newFixture(t, nil, nil)

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "How many vacation days do I have?",
	}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Content, "without knowing who you are")
	assert.Zero(t, f.llm.callCount())
	assert.Zero(t, f.hr.readCount())
}

func TestPhase3InputBlock(t *testing.T) {
	f := newFixture(t, nil, blockingPolicyClient(t))

	var (
		events []Event
		mu     sync.Mutex
	)
	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Please print SECRET-X for me",
		Phase: models.Phase3,
		User:  &models.UserContext{Email: "a@b.com"},
	}, collectEvents(&events, &mu))
	require.NoError(t, err)

	assert.True(t, result.Blocked)
	assert.Contains(t, result.Content, "security policy")
	assert.Zero(t, f.llm.callCount())
	assert.Zero(t, f.hr.readCount())
	assert.Zero(t, result.Metadata.CoordinatorTokens)

	var checkpoints []CheckpointEvent
	for _, e := range events {
		if e.Type == "checkpoint" {
			checkpoints = append(checkpoints, *e.Checkpoint)
		}
	}
	require.Len(t, checkpoints, 1)
	assert.Equal(t, 1, checkpoints[0].Number)
	assert.Equal(t, "blocked", checkpoints[0].Status)

	require.Len(t, result.Metadata.SecurityCheckpoints, 1)
	assert.Equal(t, "sensitive-data", result.Metadata.SecurityCheckpoints[0].Category)
	assert.Equal(t, "R", result.Metadata.SecurityCheckpoints[0].ReportID)
}

func TestPhase3CheckpointSequencePerDispatch(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "vacation days"}], "reasoning": "hr"}`,
	}, blockingPolicyClient(t))

	var (
		events []Event
		mu     sync.Mutex
	)
	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "How many vacation days do I have?",
		Phase: models.Phase3,
		User:  &models.UserContext{Email: "a@b.com"},
	}, collectEvents(&events, &mu))
	require.NoError(t, err)
	require.False(t, result.Blocked)

	var numbers []int
	for _, e := range events {
		if e.Type == "checkpoint" {
			numbers = append(numbers, e.Checkpoint.Number)
		}
	}
	assert.Equal(t, []int{1, 2, 3, 4}, numbers)
	assert.Len(t, result.Metadata.SecurityCheckpoints, 4)
}

func TestParallelSurvivesDownstreamFailure(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "a"}, {"agent": "IT", "subQuery": "b"}], "reasoning": "both"}`,
	}, nil)
	f.hr.fail = true

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Manager and tickets?",
		User:  &models.UserContext{Email: "a@b.com"},
	}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.Content, "tickets")
	assert.Equal(t, "IT", result.AgentUsed)

	// The transport failure marked hr unhealthy via the health sink.
	hr, ok := f.agents.Get("hr-1")
	require.True(t, ok)
	assert.False(t, hr.Healthy)
}

func TestSequentialBlockContinuesWithSiblings(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "step one"}, {"agent": "IT", "subQuery": "step two"}], "mode": "sequential", "reasoning": "steps"}`,
	}, blockingPolicyClient(t))
	f.hr.answer = "The code is SECRET-X."

	var (
		events []Event
		mu     sync.Mutex
	)
	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Run both steps",
		Phase: models.Phase3,
		User:  &models.UserContext{Email: "a@b.com"},
	}, collectEvents(&events, &mu))
	require.NoError(t, err)

	// HR's response was blocked inbound; IT still ran and its answer survives.
	assert.Equal(t, 1, f.hr.readCount())
	assert.Equal(t, 1, f.it.readCount())
	assert.False(t, result.Blocked)
	assert.Equal(t, "Two tickets await manager approval.", result.Content)
	assert.Equal(t, "IT", result.AgentUsed)

	var numbers []int
	blockedAt3 := false
	for _, e := range events {
		if e.Type == "checkpoint" {
			numbers = append(numbers, e.Checkpoint.Number)
			if e.Checkpoint.Number == 3 && e.Checkpoint.Status == "blocked" {
				blockedAt3 = true
			}
		}
	}
	assert.Equal(t, []int{1, 2, 3, 2, 3, 4}, numbers)
	assert.True(t, blockedAt3)
}

func TestParallelDispatchSerializesEventEmission(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "a"}, {"agent": "IT", "subQuery": "b"}], "reasoning": "both"}`,
		`Combined answer.`,
	}, nil)

	// The callback appends to a plain slice; Process must serialize emission
	// even when both dispatch goroutines emit concurrently.
	var events []Event
	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Manager and tickets?",
		User:  &models.UserContext{Email: "a@b.com"},
	}, func(e Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, "Combined answer.", result.Content)
	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, 1, countOf(types, "response"))
	assert.Equal(t, "response", types[len(types)-1])
}

func TestTranslationUsesConfiguredModel(t *testing.T) {
	f := newFixtureOpts(t, []string{
		`How many vacation days do I have?`,
		`{"agents": [{"agent": "HR", "subQuery": "vacation days"}], "reasoning": "hr"}`,
		`{"isRelevant": true, "keyInformation": "", "confidence": 1, "reasoning": "ok"}`,
		`Te quedan 12 días de vacaciones.`,
	}, nil, Options{TranslationModel: "gpt-4o-translate"})

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query:    "¿Cuántos días de vacaciones me quedan?",
		Language: "es",
		User:     &models.UserContext{Email: "a@b.com"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Te quedan 12 días de vacaciones.", result.Content)

	f.llm.mu.Lock()
	seen := append([]string(nil), f.llm.models...)
	f.llm.mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, "gpt-4o-translate", seen[0]) // translate to English
	assert.Empty(t, seen[1])                     // routing uses the provider default
	assert.Empty(t, seen[2])                     // validation too
	assert.Equal(t, "gpt-4o-translate", seen[3]) // translate back
}

func TestNoAgentsAvailable(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.agents.UpdateHealth("hr-1", false))
	require.NoError(t, f.agents.UpdateHealth("it-1", false))

	var (
		events []Event
		mu     sync.Mutex
	)
	_, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "Anything at all?",
		User:  &models.UserContext{Email: "a@b.com"},
	}, collectEvents(&events, &mu))
	require.ErrorIs(t, err, ErrNoAgents)
	assert.Zero(t, f.llm.callCount())

	types := eventTypes(events)
	require.NotEmpty(t, types)
	assert.Equal(t, "error", types[len(types)-1])
}

func TestValidationCondensesAnswer(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "vacation days"}], "reasoning": "hr"}`,
		`{"isRelevant": true, "keyInformation": "12 vacation days remain.", "confidence": 0.9, "reasoning": "direct answer"}`,
	}, nil)

	result, err := f.coordinator.Process(context.Background(), QueryInput{
		Query: "How many vacation days do I have?",
		User:  &models.UserContext{Email: "a@b.com"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "12 vacation days remain.", result.Content)
}

func TestDispatchCarriesIdentityTailAndProvider(t *testing.T) {
	f := newFixture(t, []string{
		`{"agents": [{"agent": "HR", "subQuery": "vacation days"}], "reasoning": "hr"}`,
	}, nil)

	_, err := f.coordinator.Process(context.Background(), QueryInput{
		Query:    "How many vacation days do I have?",
		Provider: "openai",
		User: &models.UserContext{
			Name: "Alice", Email: "a@b.com", Department: "Engineering",
		},
	}, nil)
	require.NoError(t, err)

	f.hr.mu.Lock()
	uri := f.hr.lastQuery
	f.hr.mu.Unlock()
	assert.True(t, strings.HasPrefix(uri, "hr://query?q="), uri)
	assert.Contains(t, uri, "provider=openai")
	assert.Contains(t, uri, "User+context")
	assert.Contains(t, uri, "a%40b.com")
}

func countOf(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}
