package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/airlock-ai/airlock/pkg/models"
	"github.com/airlock-ai/airlock/pkg/policy"
	"github.com/airlock-ai/airlock/pkg/routing"
)

// securityBlockedText is the pseudo-response recorded for a branch whose
// inbound payload failed checkpoint 3.
const securityBlockedText = "[security-blocked]"

// subResponse is the outcome of one downstream dispatch. Text is empty when
// the branch failed; synthesis tolerates that.
type subResponse struct {
	Assignment routing.Assignment
	Text       string
	Blocked    bool
	Err        error
}

// dispatchAll executes the strategy's dispatches. Parallel fans out one
// goroutine per agent; sequential runs in plan order and continues past
// blocked or failed branches. Results keep plan order either way.
func (c *Coordinator) dispatchAll(ctx context.Context, strategy *routing.Strategy,
	st *queryState) []subResponse {

	results := make([]subResponse, len(strategy.Agents))

	if strategy.Kind == routing.StrategyParallel {
		var wg sync.WaitGroup
		for i, assignment := range strategy.Agents {
			wg.Add(1)
			go func(i int, a routing.Assignment) {
				defer wg.Done()
				results[i] = c.dispatchOne(ctx, a, st)
			}(i, assignment)
		}
		wg.Wait()
		return results
	}

	for i, assignment := range strategy.Agents {
		results[i] = c.dispatchOne(ctx, assignment, st)
	}
	return results
}

// dispatchOne wraps a single downstream call in checkpoints 2 and 3.
func (c *Coordinator) dispatchOne(ctx context.Context, a routing.Assignment,
	st *queryState) subResponse {

	out := subResponse{Assignment: a}
	query := a.SubQuery
	if query == "" {
		query = st.query
	}

	st.emit(thinkingEvent(fmt.Sprintf("Asking %s: %s", a.AgentName, query)))

	// Checkpoint 2 scans the query portion only; masking never touches the
	// identity tail appended below.
	if st.checkpointed {
		verdict, err := st.checkpoints.run(ctx, checkpointOutbound, query, "", st.scanCtx)
		if err != nil {
			out.Err = fmt.Errorf("outbound policy check for %s: %w", a.AgentName, err)
			return out
		}
		if !verdict.Approved {
			out.Blocked = true
			out.Text = securityBlockedText
			return out
		}
		query = verdict.MaskedPrompt
	}

	payload := buildPayload(query, st.history, st.user)
	uri := resourceURI(a.AgentName, payload, st.provider)

	agent, ok := c.agents.Get(a.AgentID)
	if !ok {
		out.Err = fmt.Errorf("agent %s disappeared from registry", a.AgentName)
		return out
	}

	result, err := c.sessions.ReadResource(ctx, agent.ID, agent.BaseURL, uri)
	if err != nil {
		out.Err = err
		return out
	}
	text := result.Text()
	st.ledger.addAgent(c.estimator.Count(payload) + c.estimator.Count(text))

	if st.checkpointed {
		verdict, err := st.checkpoints.run(ctx, checkpointInbound, payload, text, st.scanCtx)
		if err != nil {
			out.Err = fmt.Errorf("inbound policy check for %s: %w", a.AgentName, err)
			return out
		}
		if !verdict.Approved {
			out.Blocked = true
			out.Text = securityBlockedText
			return out
		}
		text = verdict.MaskedResponse
	}

	out.Text = text
	return out
}

// buildPayload enriches the (already masked) query with recent history and
// the user identity tail.
func buildPayload(query string, history []models.Turn, user *models.UserContext) string {
	var b strings.Builder
	b.WriteString(query)

	if len(history) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
	}
	if tail := user.ContextTail(); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

// resourceURI encodes the dispatch as <agent>://query?q=<payload>&provider=<tag>.
func resourceURI(agentName, payload, provider string) string {
	scheme := strings.ToLower(strings.ReplaceAll(agentName, " ", "-"))
	uri := fmt.Sprintf("%s://query?q=%s", scheme, url.QueryEscape(payload))
	if provider != "" {
		uri += "&provider=" + url.QueryEscape(provider)
	}
	return uri
}

// scanContextFor builds the per-request policy metadata.
func scanContextFor(in *QueryInput, model string) policy.Context {
	var appUser string
	if in.User != nil {
		appUser = in.User.Email
	}
	return policy.Context{
		Language: in.Language,
		AppUser:  appUser,
		AIModel:  model,
		TrID:     in.TrID,
	}
}
