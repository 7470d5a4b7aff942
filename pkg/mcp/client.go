package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/airlock-ai/airlock/pkg/version"
)

// DefaultTimeout bounds a single downstream call. LLM-backed agents can
// legitimately take many minutes on a complex sub-query.
const DefaultTimeout = 20 * time.Minute

// HealthSink receives transport-failure notifications so agent health can be
// flipped without this package importing the registry.
type HealthSink interface {
	MarkUnhealthy(agentID, reason string)
}

// session is a cached downstream session.
type session struct {
	id       string
	lastUsed time.Time
}

// Manager keeps one MCP session per agent and forwards JSON-RPC requests.
// Thread-safe: parallel routing fans out to several agents at once, and two
// requests to the same agent may race on lazy initialization.
type Manager struct {
	timeout time.Duration
	health  HealthSink
	client  *http.Client

	mu       sync.RWMutex
	sessions map[string]*session

	// Per-agent mutex serializing session creation so concurrent first
	// requests produce a single initialize call.
	initMu sync.Map // agentID → *sync.Mutex

	nextID atomic.Int64
	logger *slog.Logger
}

// NewManager creates a session manager. A nil health sink disables
// unhealthy-marking; timeout <= 0 selects DefaultTimeout.
func NewManager(timeout time.Duration, health HealthSink) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{
		timeout:  timeout,
		health:   health,
		sessions: make(map[string]*session),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	m.nextID.Store(1)
	return m
}

// InitializeSession ensures a session exists for the agent and returns its
// id. Cached sessions are reused; only the first caller per agent performs
// the initialize round-trip.
func (m *Manager) InitializeSession(ctx context.Context, agentID, baseURL string) (string, error) {
	if s := m.cached(agentID); s != "" {
		return s, nil
	}

	muI, _ := m.initMu.LoadOrStore(agentID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have won the race while we waited.
	if s := m.cached(agentID); s != "" {
		return s, nil
	}

	req := NewRequest(1, "initialize", initializeParams{
		ProtocolVersion: version.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: clientInfo{
			Name:    version.AppName,
			Version: version.GitCommit,
		},
	})

	resp, header, err := m.post(ctx, agentID, baseURL, "", req)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("initialize rejected by agent %s: %w", agentID, resp.Error)
	}

	sessionID := extractSessionID(resp, header)
	m.mu.Lock()
	m.sessions[agentID] = &session{id: sessionID, lastUsed: time.Now()}
	m.mu.Unlock()

	m.logger.Info("MCP session initialized",
		"agent_id", agentID, "session_id", sessionID)
	return sessionID, nil
}

// extractSessionID picks the session id from result.sessionId, then the
// mcp-session-id response header, then generates one.
func extractSessionID(resp *Response, header http.Header) string {
	var result initializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err == nil && result.SessionID != "" {
			return result.SessionID
		}
	}
	if id := header.Get("mcp-session-id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// Forward sends a JSON-RPC request to the agent, initializing the session
// first when needed. Transport failures invalidate the session and mark the
// agent unhealthy.
func (m *Manager) Forward(ctx context.Context, agentID, baseURL string, req *Request) (*Response, error) {
	sessionID, err := m.InitializeSession(ctx, agentID, baseURL)
	if err != nil {
		return nil, err
	}

	resp, _, err := m.post(ctx, agentID, baseURL, sessionID, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if s, ok := m.sessions[agentID]; ok {
		s.lastUsed = time.Now()
	}
	m.mu.Unlock()
	return resp, nil
}

// ReadResource issues resources/read for the URI and decodes the result.
func (m *Manager) ReadResource(ctx context.Context, agentID, baseURL, uri string) (*ReadResourceResult, error) {
	req := NewRequest(m.nextID.Add(1), "resources/read", map[string]string{"uri": uri})
	resp, err := m.Forward(ctx, agentID, baseURL, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("resources/read failed on agent %s: %w", agentID, resp.Error)
	}

	var result ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode resources/read result from agent %s: %w", agentID, err)
	}
	return &result, nil
}

// post performs one HTTP round-trip and parses the body as JSON or SSE by
// content type. A transport-level failure tears down the cached session.
func (m *Manager) post(ctx context.Context, agentID, baseURL, sessionID string, req *Request) (*Response, http.Header, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal jsonrpc request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	url := strings.TrimRight(baseURL, "/") + "/mcp"
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build jsonrpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := m.client.Do(httpReq)
	if err != nil {
		m.transportFailure(agentID, err)
		return nil, nil, fmt.Errorf("agent %s transport failure: %w", agentID, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		m.transportFailure(agentID, err)
		return nil, nil, fmt.Errorf("agent %s read response: %w", agentID, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		err := fmt.Errorf("agent %s returned status %d", agentID, httpResp.StatusCode)
		m.transportFailure(agentID, err)
		return nil, nil, err
	}

	payload := raw
	if isEventStream(httpResp.Header.Get("Content-Type")) {
		payload, err = decodeSSE(bytes.NewReader(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("agent %s: %w", agentID, err)
		}
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, nil, fmt.Errorf("agent %s sent malformed jsonrpc: %w", agentID, err)
	}
	return &resp, httpResp.Header, nil
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(contentType)), "text/event-stream")
}

// transportFailure drops the cached session and reports the agent unhealthy.
func (m *Manager) transportFailure(agentID string, err error) {
	m.Invalidate(agentID)
	if m.health != nil {
		m.health.MarkUnhealthy(agentID, err.Error())
	}
	m.logger.Warn("MCP transport failure",
		"agent_id", agentID, "error", err)
}

// Invalidate drops the agent's cached session. The next request initializes
// a fresh one.
func (m *Manager) Invalidate(agentID string) {
	m.mu.Lock()
	delete(m.sessions, agentID)
	m.mu.Unlock()
}

// SessionID returns the cached session id for the agent, if any.
func (m *Manager) SessionID(agentID string) (string, bool) {
	s := m.cached(agentID)
	return s, s != ""
}

func (m *Manager) cached(agentID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[agentID]; ok {
		return s.id
	}
	return ""
}

// PruneIdle drops sessions unused for longer than max and returns how many
// were removed.
func (m *Manager) PruneIdle(max time.Duration) int {
	cutoff := time.Now().Add(-max)
	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int
	for agentID, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(m.sessions, agentID)
			pruned++
		}
	}
	if pruned > 0 {
		m.logger.Info("Pruned idle MCP sessions", "count", pruned)
	}
	return pruned
}

// Close drops every session and idle connection.
func (m *Manager) Close() {
	m.mu.Lock()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	m.client.CloseIdleConnections()
}
