package coordinator

import (
	"sync"

	"github.com/airlock-ai/airlock/pkg/llm"
)

// tokenLedger accumulates token usage for one query. Coordinator tokens come
// from routing, translation, synthesis and validation calls; agent tokens
// from downstream dispatches. The ledger lives in per-request state; parallel
// dispatch goroutines write to it concurrently.
type tokenLedger struct {
	mu          sync.Mutex
	coordinator int
	agent       int
}

func newTokenLedger() *tokenLedger {
	return &tokenLedger{}
}

// addCoordinator records an LLM adapter response, estimating when the
// provider reported no usage.
func (l *tokenLedger) addCoordinator(resp *llm.Response, est *llm.Estimator, prompt string) {
	if resp == nil {
		return
	}
	n := resp.TotalTokens()
	if n == 0 && est != nil {
		n = est.Count(prompt) + est.Count(resp.Text)
	}
	l.mu.Lock()
	l.coordinator += n
	l.mu.Unlock()
}

// addAgent records estimated usage of one downstream dispatch.
func (l *tokenLedger) addAgent(n int) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.agent += n
	l.mu.Unlock()
}

func (l *tokenLedger) snapshot() (coordinator, agent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.coordinator, l.agent
}
