package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/models"
	"github.com/airlock-ai/airlock/pkg/registry"
)

type scriptedLLM struct {
	text string
	seen *llm.Request
}

func (s *scriptedLLM) Tag() string { return "openai" }

func (s *scriptedLLM) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.seen = req
	return &llm.Response{Text: s.text, PromptTokens: 50, CompletionTokens: 20}, nil
}

func newTestEngine(t *testing.T, llmText string) (*Engine, *registry.Registry, *scriptedLLM) {
	t.Helper()
	agents := registry.New()
	require.NoError(t, agents.Register(registry.Agent{
		ID: "hr-1", Name: "HR", Description: "Employee matters",
		Capabilities: []string{"hr", "leave"},
	}))
	require.NoError(t, agents.Register(registry.Agent{
		ID: "it-1", Name: "IT", Description: "Tickets and devices",
		Capabilities: []string{"it"},
	}))

	scripted := &scriptedLLM{text: llmText}
	providers := llm.NewRegistry()
	providers.Register(scripted)
	return NewEngine(providers, agents), agents, scripted
}

func TestRouteSingleAgent(t *testing.T) {
	engine, _, scripted := newTestEngine(t,
		`{"agents": [{"agent": "hr", "subQuery": "vacation days left"}], "reasoning": "hr"}`)

	strategy, resp, err := engine.Route(context.Background(), "How many vacation days do I have?",
		engine.agents.FindCandidates(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, StrategySingle, strategy.Kind)
	require.Len(t, strategy.Agents, 1)
	assert.Equal(t, "hr-1", strategy.Agents[0].AgentID)
	assert.Equal(t, "HR", strategy.Agents[0].AgentName)
	assert.Equal(t, "vacation days left", strategy.Agents[0].SubQuery)
	assert.Equal(t, 70, resp.TotalTokens())

	// Classification runs deterministic and terse.
	assert.Zero(t, scripted.seen.Temperature)
	assert.Equal(t, 200, scripted.seen.MaxTokens)
	assert.Contains(t, scripted.seen.Prompt, "### HR")
	assert.Contains(t, scripted.seen.Prompt, "### IT")
}

func TestRouteParallel(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		`{"agents": [{"agent": "HR", "subQuery": "who is my manager"}, {"agent": "IT", "subQuery": "tickets pending approval"}], "reasoning": "both"}`)

	strategy, _, err := engine.Route(context.Background(), "manager and tickets?",
		engine.agents.FindCandidates(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, StrategyParallel, strategy.Kind)
	assert.Len(t, strategy.Agents, 2)
}

func TestRouteSequentialMode(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		`{"agents": [{"agent": "HR", "subQuery": "a"}, {"agent": "IT", "subQuery": "b"}], "mode": "sequential", "reasoning": "chained"}`)

	strategy, _, err := engine.Route(context.Background(), "q",
		engine.agents.FindCandidates(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, StrategySequential, strategy.Kind)
	assert.Equal(t, "HR", strategy.Agents[0].AgentName)
	assert.Equal(t, "IT", strategy.Agents[1].AgentName)
}

func TestRouteDeclined(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		`{"agents": [], "reasoning": "nothing matches cooking advice"}`)

	strategy, _, err := engine.Route(context.Background(), "best pasta recipe?",
		engine.agents.FindCandidates(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, StrategyDeclined, strategy.Kind)
	assert.Equal(t, "nothing matches cooking advice", strategy.Reasoning)
}

func TestRouteUnknownAgentIsHardError(t *testing.T) {
	engine, _, _ := newTestEngine(t,
		`{"agents": [{"agent": "finance", "subQuery": "budget"}], "reasoning": "finance"}`)

	_, _, err := engine.Route(context.Background(), "budget?",
		engine.agents.FindCandidates(), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "finance")
}

func TestRouteUnhealthyAgentRejected(t *testing.T) {
	engine, agents, _ := newTestEngine(t,
		`{"agents": [{"agent": "HR", "subQuery": "q"}], "reasoning": "hr"}`)
	require.NoError(t, agents.UpdateHealth("hr-1", false))

	_, _, err := engine.Route(context.Background(), "q",
		agents.FindCandidates(), nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HR")
}

func TestRouteNoCandidatesDeclinesWithoutLLM(t *testing.T) {
	engine, _, scripted := newTestEngine(t, `ignored`)

	strategy, resp, err := engine.Route(context.Background(), "q", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyDeclined, strategy.Kind)
	assert.Nil(t, resp)
	assert.Nil(t, scripted.seen)
}

func TestRoutePromptIncludesHistory(t *testing.T) {
	engine, _, scripted := newTestEngine(t,
		`{"agents": [{"agent": "HR", "subQuery": "q"}], "reasoning": "hr"}`)

	history := []models.Turn{
		{Role: "user", Content: "who approves my leave?"},
		{Role: "assistant", Content: "your manager"},
	}
	_, _, err := engine.Route(context.Background(), "and how do I ask?",
		engine.agents.FindCandidates(), history, "")
	require.NoError(t, err)

	assert.Contains(t, scripted.seen.Prompt, "who approves my leave?")
	assert.Contains(t, scripted.seen.Prompt, "your manager")
}
