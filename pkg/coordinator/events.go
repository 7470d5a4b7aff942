// Package coordinator drives a user query end to end: guard, checkpoint,
// translate, route, dispatch, synthesize, validate, respond. Progress is
// reported through a per-request event stream; all counters and logs are
// request-scoped so concurrent queries never share state.
package coordinator

import (
	"encoding/json"
	"time"
)

// Event is one entry of the thinking stream. Exactly one response (or error)
// event is emitted per query, always last.
type Event struct {
	Type       string           `json:"type"` // thinking | checkpoint | response | error
	Text       string           `json:"text,omitempty"`
	Checkpoint *CheckpointEvent `json:"checkpoint,omitempty"`
	Content    string           `json:"content,omitempty"`
	Blocked    bool             `json:"blocked,omitempty"`
	Declined   bool             `json:"declined,omitempty"`
	Metadata   *Metadata        `json:"metadata,omitempty"`
	Message    string           `json:"message,omitempty"`
	Success    *bool            `json:"success,omitempty"`
}

// CheckpointEvent is the wire form of one executed security checkpoint.
type CheckpointEvent struct {
	Number    int    `json:"number"` // 1..4
	Label     string `json:"label"`
	Status    string `json:"status"` // approved | blocked
	LatencyMS int64  `json:"latency_ms"`
	Input     string `json:"input,omitempty"`
	Output    string `json:"output,omitempty"`
}

// CheckpointRecord is the checkpoint-log entry attached to result metadata.
// The raw policy payloads are preserved verbatim for display.
type CheckpointRecord struct {
	Number      int             `json:"number"`
	Label       string          `json:"label"`
	Status      string          `json:"status"`
	LatencyMS   int64           `json:"latency_ms"`
	Category    string          `json:"category,omitempty"`
	ReportID    string          `json:"reportId,omitempty"`
	RawRequest  json.RawMessage `json:"raw_request,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// Metadata accompanies the final response event.
type Metadata struct {
	TotalTokens         int                `json:"total_tokens"`
	CoordinatorTokens   int                `json:"coordinator_tokens"`
	AgentTokens         int                `json:"agent_tokens"`
	Timestamp           string             `json:"timestamp"`
	SecurityCheckpoints []CheckpointRecord `json:"securityCheckpoints,omitempty"`
}

func thinkingEvent(text string) Event {
	return Event{Type: "thinking", Text: text}
}

func responseEvent(content string, blocked, declined bool, meta *Metadata) Event {
	return Event{
		Type:     "response",
		Content:  content,
		Blocked:  blocked,
		Declined: declined,
		Metadata: meta,
	}
}

// ErrorEvent builds the terminal error event emitted before [DONE].
func ErrorEvent(message string) Event {
	success := false
	return Event{Type: "error", Message: message, Success: &success}
}

func newMetadata(ledger *tokenLedger, checkpoints []CheckpointRecord) *Metadata {
	coord, agent := ledger.snapshot()
	return &Metadata{
		TotalTokens:         coord + agent,
		CoordinatorTokens:   coord,
		AgentTokens:         agent,
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
		SecurityCheckpoints: checkpoints,
	}
}
