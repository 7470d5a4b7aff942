// Package routing decides which agents serve a user query. The decision is
// delegated to an LLM: candidates are rendered as profile blocks, the model
// returns a JSON routing plan, and the plan is validated against the
// registry before anything is dispatched.
package routing

// StrategyKind discriminates the routing variants.
type StrategyKind string

const (
	// StrategySingle routes the whole query to one agent.
	StrategySingle StrategyKind = "single"
	// StrategyParallel fans sub-queries out to several agents concurrently.
	StrategyParallel StrategyKind = "parallel"
	// StrategySequential dispatches agents one at a time in plan order.
	StrategySequential StrategyKind = "sequential"
	// StrategyDeclined means no agent can serve the query.
	StrategyDeclined StrategyKind = "declined"
)

// Assignment pairs an agent with the sub-query it should answer.
type Assignment struct {
	AgentID   string
	AgentName string
	SubQuery  string
}

// Strategy is the routing decision for one user query. Agents is empty only
// for StrategyDeclined; order defines dispatch order for sequential plans.
type Strategy struct {
	Kind      StrategyKind
	Agents    []Assignment
	Reasoning string
}
