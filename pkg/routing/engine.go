package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/models"
	"github.com/airlock-ai/airlock/pkg/registry"
)

const routingSystemPrompt = `You are a routing classifier for a multi-agent gateway.
Respond with ONLY a JSON object, no prose, no code fences, in this exact shape:
{"agents": [{"agent": "<name>", "subQuery": "<rewritten question for that agent>"}], "mode": "parallel", "reasoning": "<one sentence>"}

Rules:
- Pick only agents from the provided list, matched by name.
- Split the query into focused sub-queries when multiple agents are needed.
- Set "mode" to "sequential" only when a later sub-query depends on an earlier answer; otherwise omit it or use "parallel".
- If no agent fits, return an empty agents array and explain in "reasoning".`

// Engine asks an LLM to classify queries across healthy agents.
type Engine struct {
	llm    *llm.Registry
	agents *registry.Registry
	logger *slog.Logger
}

// NewEngine creates a routing engine over the given providers and agent pool.
func NewEngine(llmReg *llm.Registry, agents *registry.Registry) *Engine {
	return &Engine{llm: llmReg, agents: agents, logger: slog.Default()}
}

// Route produces a routing strategy for the query. candidates must be the
// healthy-agent list from the registry; provider selects the LLM backend.
// The LLM response is returned alongside the strategy so callers can account
// for its token usage. An LLM answer naming an unknown agent is a hard
// error, never a silent fallback.
func (e *Engine) Route(ctx context.Context, query string, candidates []registry.Agent,
	history []models.Turn, provider string) (*Strategy, *llm.Response, error) {

	if len(candidates) == 0 {
		return &Strategy{Kind: StrategyDeclined, Reasoning: "no agents available"}, nil, nil
	}

	resp, err := e.llm.Generate(ctx, &llm.Request{
		Prompt:      buildRoutingPrompt(query, candidates, history),
		System:      routingSystemPrompt,
		Temperature: 0,
		MaxTokens:   200,
		Provider:    provider,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("routing classification failed: %w", err)
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		return nil, resp, err
	}

	strategy, err := e.planToStrategy(plan)
	if err != nil {
		return nil, resp, err
	}
	e.logger.Info("Routing decision",
		"kind", strategy.Kind, "agents", agentNames(strategy.Agents),
		"reasoning", strategy.Reasoning)
	return strategy, resp, nil
}

// planToStrategy validates the plan against the registry and fixes the
// strategy kind from the agent count and requested mode.
func (e *Engine) planToStrategy(plan *routingPlan) (*Strategy, error) {
	if len(plan.Agents) == 0 {
		reason := plan.Reasoning
		if reason == "" {
			reason = "no suitable agent for this query"
		}
		return &Strategy{Kind: StrategyDeclined, Reasoning: reason}, nil
	}

	assignments := make([]Assignment, 0, len(plan.Agents))
	for _, entry := range plan.Agents {
		agent, ok := e.agents.FindByName(entry.Agent)
		if !ok || !agent.Healthy {
			return nil, fmt.Errorf("routing selected unknown agent %q", entry.Agent)
		}
		assignments = append(assignments, Assignment{
			AgentID:   agent.ID,
			AgentName: agent.Name,
			SubQuery:  entry.SubQuery,
		})
	}

	kind := StrategySingle
	if len(assignments) > 1 {
		kind = StrategyParallel
		if strings.EqualFold(plan.Mode, string(StrategySequential)) {
			kind = StrategySequential
		}
	}
	return &Strategy{Kind: kind, Agents: assignments, Reasoning: plan.Reasoning}, nil
}

// buildRoutingPrompt renders the agent profile block plus recent history.
func buildRoutingPrompt(query string, candidates []registry.Agent, history []models.Turn) string {
	var b strings.Builder
	b.WriteString("Available agents:\n\n")
	for _, a := range candidates {
		fmt.Fprintf(&b, "### %s\n%s\n", a.Name, a.Description)
		for _, tag := range a.Capabilities {
			fmt.Fprintf(&b, "- %s\n", tag)
		}
		b.WriteString("\n")
	}

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User query: %s\n", query)
	return b.String()
}

func agentNames(assignments []Assignment) []string {
	names := make([]string, len(assignments))
	for i, a := range assignments {
		names[i] = a.AgentName
	}
	return names
}
