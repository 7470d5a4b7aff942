// Package mcp implements the JSON-RPC 2.0 client side of the Model Context
// Protocol over HTTP. Each downstream agent exposes a single /mcp endpoint;
// the Manager keeps one initialized session per agent and reuses it until a
// transport failure invalidates it.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with the fixed protocol version field set.
func NewRequest(id any, method string, params any) *Request {
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// initializeParams is the params object of the initialize method.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the subset of the initialize result the manager reads.
type initializeResult struct {
	SessionID string `json:"sessionId"`
}

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ReadResourceResult is the result shape of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Text concatenates the text of every returned content block.
func (r *ReadResourceResult) Text() string {
	var out string
	for _, c := range r.Contents {
		out += c.Text
	}
	return out
}
