package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/airlock-ai/airlock/pkg/config"
	"github.com/airlock-ai/airlock/pkg/policy"
)

// MockPolicy emulates the content-security scan API: content containing
// BlockMarker is blocked, content containing MaskMarker comes back with the
// marker replaced by MaskedAs, everything else is allowed.
type MockPolicy struct {
	BlockMarker string
	MaskMarker  string
	MaskedAs    string

	srv *httptest.Server
	t   *testing.T

	mu    sync.Mutex
	scans int
}

// NewMockPolicy starts the mock scan backend and returns it with a policy
// client pointed at it.
func NewMockPolicy(t *testing.T) (*MockPolicy, *policy.Client) {
	t.Helper()
	p := &MockPolicy{
		BlockMarker: "SECRET-X",
		MaskMarker:  "555-0100",
		MaskedAs:    "[PHONE]",
		t:           t,
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)

	client := policy.NewClient(config.PolicyConfig{
		APIURL: p.srv.URL, APIToken: "test-token", ProfileID: "test-profile",
	})
	return p, client
}

func (p *MockPolicy) handle(w http.ResponseWriter, r *http.Request) {
	require.Equal(p.t, "test-token", r.Header.Get("x-pan-token"))

	var req struct {
		Contents []struct {
			Prompt   string `json:"prompt"`
			Response string `json:"response"`
		} `json:"contents"`
	}
	require.NoError(p.t, json.NewDecoder(r.Body).Decode(&req))
	require.Len(p.t, req.Contents, 1)

	p.mu.Lock()
	p.scans++
	p.mu.Unlock()

	prompt := req.Contents[0].Prompt
	response := req.Contents[0].Response

	body := map[string]any{
		"report_id": fmt.Sprintf("R-%d", p.ScanCount()),
		"category":  "benign",
		"action":    "allow",
	}
	if strings.Contains(prompt+response, p.BlockMarker) {
		body["category"] = "sensitive-data"
		body["action"] = "block"
	}
	if strings.Contains(prompt, p.MaskMarker) {
		body["prompt_masked_data"] = map[string]any{
			"data": strings.ReplaceAll(prompt, p.MaskMarker, p.MaskedAs),
		}
	}
	if strings.Contains(response, p.MaskMarker) {
		body["response_masked_data"] = map[string]any{
			"data": strings.ReplaceAll(response, p.MaskMarker, p.MaskedAs),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	require.NoError(p.t, json.NewEncoder(w).Encode(body))
}

// ScanCount reports how many scan calls arrived.
func (p *MockPolicy) ScanCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scans
}
