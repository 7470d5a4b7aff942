package e2e

import (
	"context"
	"sync"

	"github.com/airlock-ai/airlock/pkg/llm"
)

const relevancePass = `{"isRelevant": true, "keyInformation": "", "confidence": 1, "reasoning": "ok"}`

// ScriptedLLM replays canned responses in call order. When the script runs
// out it returns a relevance-validation approval so pipelines complete with
// the downstream answer passed through.
type ScriptedLLM struct {
	mu      sync.Mutex
	script  []string
	calls   int
	prompts []string
}

// NewScriptedLLM creates a provider pre-loaded with the given responses.
func NewScriptedLLM(script []string) *ScriptedLLM {
	return &ScriptedLLM{script: script}
}

func (s *ScriptedLLM) Tag() string { return "openai" }

func (s *ScriptedLLM) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	text := relevancePass
	if s.calls < len(s.script) {
		text = s.script[s.calls]
	}
	s.calls++
	return &llm.Response{Text: text, PromptTokens: 30, CompletionTokens: 10, Provider: "openai"}, nil
}

// Append adds more responses to the end of the script.
func (s *ScriptedLLM) Append(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, responses...)
}

// Calls reports how many times Generate ran.
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns a copy of every prompt seen so far.
func (s *ScriptedLLM) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
