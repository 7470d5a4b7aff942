package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airlock-ai/airlock/pkg/llm"
	"github.com/airlock-ai/airlock/pkg/routing"
)

// synthesize fuses multiple sub-responses into one coherent answer. Failed
// branches arrive with empty text and are skipped; an LLM failure degrades
// to concatenation with bold agent labels.
func (c *Coordinator) synthesize(ctx context.Context, query string, subs []subResponse,
	provider string, ledger *tokenLedger) string {

	usable := usableResponses(subs)
	if len(usable) == 0 {
		return ""
	}
	if len(usable) == 1 {
		return usable[0].Text
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %s\n\n", query)
	b.WriteString("Several specialist agents answered parts of the question:\n\n")
	for _, sub := range usable {
		fmt.Fprintf(&b, "Answer from %s:\n%s\n\n", sub.Assignment.AgentName, sub.Text)
	}
	b.WriteString("Combine these into a single coherent answer for the user. " +
		"Do not mention the agents or that the answer was assembled.")
	prompt := b.String()

	resp, err := c.llm.Generate(ctx, &llm.Request{
		Prompt:      prompt,
		Temperature: 0.3,
		MaxTokens:   2048,
		Provider:    provider,
	})
	if err != nil {
		slog.Warn("Synthesis failed, falling back to concatenation", "error", err)
		return concatenate(usable)
	}
	ledger.addCoordinator(resp, c.estimator, prompt)
	if strings.TrimSpace(resp.Text) == "" {
		return concatenate(usable)
	}
	return strings.TrimSpace(resp.Text)
}

// concatenate is the synthesis fallback.
func concatenate(subs []subResponse) string {
	var parts []string
	for _, sub := range subs {
		parts = append(parts, fmt.Sprintf("**%s**: %s", sub.Assignment.AgentName, sub.Text))
	}
	return strings.Join(parts, "\n\n")
}

// usableResponses filters out failed and blocked branches.
func usableResponses(subs []subResponse) []subResponse {
	var out []subResponse
	for _, sub := range subs {
		if sub.Err == nil && !sub.Blocked && strings.TrimSpace(sub.Text) != "" {
			out = append(out, sub)
		}
	}
	return out
}

// validation is the relevance-check JSON the model returns.
type validation struct {
	IsRelevant     bool    `json:"isRelevant"`
	KeyInformation string  `json:"keyInformation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// validateResponse asks the model to confirm the answer addresses the query
// and to condense it. Any parse or LLM failure passes the answer through.
func (c *Coordinator) validateResponse(ctx context.Context, query, answer, provider string,
	ledger *tokenLedger) string {

	prompt := fmt.Sprintf(`Assess whether the answer addresses the question.
Respond with ONLY a JSON object: {"isRelevant": bool, "keyInformation": "<the answer, condensed but complete>", "confidence": 0..1, "reasoning": "<one sentence>"}

Question: %s

Answer: %s`, query, answer)

	resp, err := c.llm.Generate(ctx, &llm.Request{
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   2048,
		Provider:    provider,
	})
	if err != nil {
		slog.Warn("Validation failed, passing answer through", "error", err)
		return answer
	}
	ledger.addCoordinator(resp, c.estimator, prompt)

	candidate := routing.ExtractJSON(resp.Text)
	if candidate == "" {
		return answer
	}
	var v validation
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return answer
	}
	if v.IsRelevant && strings.TrimSpace(v.KeyInformation) != "" {
		return strings.TrimSpace(v.KeyInformation)
	}
	return answer
}
