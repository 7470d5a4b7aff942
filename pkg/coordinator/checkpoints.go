package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/airlock-ai/airlock/pkg/policy"
)

// Checkpoint positions around an LLM hop.
const (
	checkpointInput    = 1
	checkpointOutbound = 2
	checkpointInbound  = 3
	checkpointFinal    = 4
)

var checkpointLabels = map[int]string{
	checkpointInput:    "input",
	checkpointOutbound: "outbound",
	checkpointInbound:  "inbound",
	checkpointFinal:    "final",
}

// checkpointRunner executes policy checkpoints for one query, keeping the
// ordered log and emitting one checkpoint event per call. Parallel dispatch
// runs checkpoints 2 and 3 from several goroutines.
type checkpointRunner struct {
	policy *policy.Client
	emit   func(Event)

	mu  sync.Mutex
	log []CheckpointRecord
}

func newCheckpointRunner(client *policy.Client, emit func(Event)) *checkpointRunner {
	return &checkpointRunner{policy: client, emit: emit}
}

// run executes one checkpoint. response is empty for checkpoints 1 and 2.
// The policy verdict is returned untouched; the caller decides how a block
// propagates.
func (r *checkpointRunner) run(ctx context.Context, number int, prompt, response string,
	sc policy.Context) (*policy.Result, error) {

	start := time.Now()
	var (
		result *policy.Result
		err    error
	)
	if response == "" {
		result, err = r.policy.AnalyzePrompt(ctx, prompt, sc)
	} else {
		result, err = r.policy.AnalyzePromptAndResponse(ctx, prompt, response, sc)
	}
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	status := "approved"
	if !result.Approved {
		status = "blocked"
	}
	label := checkpointLabels[number]

	r.mu.Lock()
	r.log = append(r.log, CheckpointRecord{
		Number:      number,
		Label:       label,
		Status:      status,
		LatencyMS:   latency,
		Category:    result.Category,
		ReportID:    result.ReportID,
		RawRequest:  result.RawRequest,
		RawResponse: result.RawResponse,
	})
	r.mu.Unlock()

	r.emit(Event{Type: "checkpoint", Checkpoint: &CheckpointEvent{
		Number:    number,
		Label:     label,
		Status:    status,
		LatencyMS: latency,
		Input:     prompt,
		Output:    response,
	}})
	return result, nil
}

// records returns the checkpoint log in execution order.
func (r *checkpointRunner) records() []CheckpointRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CheckpointRecord(nil), r.log...)
}
