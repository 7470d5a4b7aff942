// Package policy wraps the content-security scan API (Prisma AIRS) behind
// two checkpoint calls. An unconfigured client approves everything and passes
// input through unchanged, so callers never branch on configuration.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/airlock-ai/airlock/pkg/config"
)

const scanPath = "/v1/scan/sync/request"

// Context carries per-request scan metadata.
type Context struct {
	Language string
	AppName  string
	AppUser  string
	AIModel  string
	TrID     string
}

// Result is a single checkpoint verdict. RawRequest and RawResponse hold the
// exact wire payloads for the checkpoint log and are never re-encoded.
type Result struct {
	Approved       bool
	Category       string
	ReportID       string
	Message        string
	MaskedPrompt   string
	MaskedResponse string
	Detections     []string
	RawRequest     json.RawMessage
	RawResponse    json.RawMessage
}

// Client calls the scan API. The zero-value-equivalent unconfigured client
// (empty APIURL) short-circuits to approval.
type Client struct {
	cfg        config.PolicyConfig
	httpClient *http.Client
}

// NewClient builds a policy client from configuration.
func NewClient(cfg config.PolicyConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether scan calls will actually reach a backend.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// AnalyzePrompt scans user or outbound text before it reaches an LLM or agent.
func (c *Client) AnalyzePrompt(ctx context.Context, text string, sc Context) (*Result, error) {
	if !c.Configured() {
		return passThrough(text, ""), nil
	}
	return c.scan(ctx, scanContent{Prompt: text}, sc)
}

// AnalyzePromptAndResponse scans a prompt/response pair after a downstream
// call returns.
func (c *Client) AnalyzePromptAndResponse(ctx context.Context, prompt, response string, sc Context) (*Result, error) {
	if !c.Configured() {
		return passThrough(prompt, response), nil
	}
	return c.scan(ctx, scanContent{Prompt: prompt, Response: response}, sc)
}

func passThrough(prompt, response string) *Result {
	return &Result{
		Approved:       true,
		MaskedPrompt:   prompt,
		MaskedResponse: response,
	}
}

type scanContent struct {
	Prompt   string `json:"prompt,omitempty"`
	Response string `json:"response,omitempty"`
}

type scanRequest struct {
	TrID      string `json:"tr_id"`
	AIProfile struct {
		ProfileID string `json:"profile_id"`
	} `json:"ai_profile"`
	Metadata struct {
		AppName string `json:"app_name,omitempty"`
		AppUser string `json:"app_user,omitempty"`
		AIModel string `json:"ai_model,omitempty"`
	} `json:"metadata"`
	Contents []scanContent `json:"contents"`
}

type maskedData struct {
	Data              string                       `json:"data"`
	PatternDetections []struct {
		Pattern   string   `json:"pattern"`
		Locations []string `json:"locations"`
	} `json:"pattern_detections"`
}

type scanResponse struct {
	ReportID       string          `json:"report_id"`
	ScanID         string          `json:"scan_id"`
	Category       string          `json:"category"`
	Action         string          `json:"action"`
	PromptDetected map[string]bool `json:"prompt_detected"`
	RespDetected   map[string]bool `json:"response_detected"`
	PromptMasked   *maskedData     `json:"prompt_masked_data"`
	RespMasked     *maskedData     `json:"response_masked_data"`
}

func (c *Client) scan(ctx context.Context, content scanContent, sc Context) (*Result, error) {
	req := scanRequest{TrID: sc.TrID, Contents: []scanContent{content}}
	if req.TrID == "" {
		req.TrID = uuid.NewString()
	}
	req.AIProfile.ProfileID = c.cfg.ProfileID
	req.Metadata.AppName = coalesce(sc.AppName, c.cfg.AppName)
	req.Metadata.AppUser = sc.AppUser
	req.Metadata.AIModel = sc.AIModel

	rawReq, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scan request: %w", err)
	}

	url := strings.TrimRight(c.cfg.APIURL, "/") + scanPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(rawReq))
	if err != nil {
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-pan-token", c.cfg.APIToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("policy scan failed: %w", err)
	}
	defer resp.Body.Close()

	rawResp, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read scan response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy scan status %d: %s", resp.StatusCode,
			strings.TrimSpace(string(rawResp)))
	}

	var parsed scanResponse
	if err := json.Unmarshal(rawResp, &parsed); err != nil {
		return nil, fmt.Errorf("decode scan response: %w", err)
	}

	result := &Result{
		Approved:       parsed.Action != "block",
		Category:       parsed.Category,
		ReportID:       parsed.ReportID,
		MaskedPrompt:   content.Prompt,
		MaskedResponse: content.Response,
		Detections:     detectionNames(parsed.PromptDetected, parsed.RespDetected),
		RawRequest:     rawReq,
		RawResponse:    rawResp,
	}
	if !result.Approved {
		result.Message = blockMessage(parsed.Category)
	}
	if parsed.PromptMasked != nil && parsed.PromptMasked.Data != "" {
		result.MaskedPrompt = parsed.PromptMasked.Data
	}
	if parsed.RespMasked != nil && parsed.RespMasked.Data != "" {
		result.MaskedResponse = parsed.RespMasked.Data
	}
	return result, nil
}

func detectionNames(sets ...map[string]bool) []string {
	var names []string
	seen := make(map[string]bool)
	for _, set := range sets {
		for name, hit := range set {
			if hit && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

func blockMessage(category string) string {
	if category == "" {
		return "This request was blocked by the security policy."
	}
	return fmt.Sprintf("This request was blocked by the security policy (%s).", category)
}

func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
