package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanCleanJSON(t *testing.T) {
	plan, err := parsePlan(`{"agents": [{"agent": "HR", "subQuery": "leave balance"}], "reasoning": "hr topic"}`)
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, "HR", plan.Agents[0].Agent)
	assert.Equal(t, "leave balance", plan.Agents[0].SubQuery)
	assert.Equal(t, "hr topic", plan.Reasoning)
}

func TestParsePlanStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"agents\": [{\"agent\": \"IT\", \"subQuery\": \"open tickets\"}], \"reasoning\": \"it\"}\n```"
	plan, err := parsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, "IT", plan.Agents[0].Agent)
}

func TestParsePlanSurroundingProse(t *testing.T) {
	raw := `Sure! Here is the routing decision:
{"agents": [], "reasoning": "small talk"} Hope that helps.`
	plan, err := parsePlan(raw)
	require.NoError(t, err)
	assert.Empty(t, plan.Agents)
	assert.Equal(t, "small talk", plan.Reasoning)
}

func TestParsePlanThinkingRescue(t *testing.T) {
	raw := `{"thinking": "the plan is {\"agents\": [{\"agent\": \"HR\", \"subQuery\": \"q\"}], \"reasoning\": \"r\"}"}`
	plan, err := parsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, "HR", plan.Agents[0].Agent)
}

func TestParsePlanNestedBracesInStrings(t *testing.T) {
	raw := `{"agents": [{"agent": "HR", "subQuery": "what does {x} mean?"}], "reasoning": "ok"}`
	plan, err := parsePlan(raw)
	require.NoError(t, err)
	require.Len(t, plan.Agents, 1)
	assert.Equal(t, "what does {x} mean?", plan.Agents[0].SubQuery)
}

func TestParsePlanSequentialMode(t *testing.T) {
	plan, err := parsePlan(`{"agents": [{"agent": "a"}, {"agent": "b"}], "mode": "sequential", "reasoning": "chained"}`)
	require.NoError(t, err)
	assert.Equal(t, "sequential", plan.Mode)
}

func TestParsePlanNoJSON(t *testing.T) {
	_, err := parsePlan("I cannot answer that.")
	require.Error(t, err)
}

func TestParsePlanMalformedJSON(t *testing.T) {
	_, err := parsePlan(`{"agents": [}`)
	require.Error(t, err)
}
