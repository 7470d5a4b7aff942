// Package llm provides a uniform text-generation adapter over multiple LLM
// providers. Providers are discovered at startup from configuration and
// registered under short tags (openai, anthropic, azure, gcp, aws, ollama);
// callers address them by tag or fall back to the registry default.
//
// The adapter returns plain text and token usage. No retries happen at this
// layer: callers decide their own degradation policy.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Request is a single generation request.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int
	// Provider selects a registered provider tag. Empty means the registry
	// default (the first provider whose credentials were configured).
	Provider string
	// Model overrides the provider's configured model for this request.
	// Empty uses the provider default.
	Model string
}

// Response is the uniform generation result.
// PromptTokens/CompletionTokens are real provider counts when reported and
// zero otherwise; callers estimate from text volume in that case.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Provider         string
	Model            string
}

// TotalTokens returns the sum of reported prompt and completion tokens.
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider is a single configured LLM backend.
type Provider interface {
	// Tag returns the short provider tag this backend is registered under.
	Tag() string
	// Generate produces a completion for the request. Errors are *ProviderError.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ErrorKind classifies provider failures for callers that degrade differently
// per kind (e.g. surface auth errors, fall back on timeouts).
type ErrorKind string

const (
	KindAuth        ErrorKind = "auth"
	KindRate        ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindUnsupported ErrorKind = "unsupported"
	KindOther       ErrorKind = "other"
)

// ProviderError is the error type returned by every Provider.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm provider %s (%s): %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("llm provider %s (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrorKindOf extracts the kind from an adapter error, or KindOther for
// foreign errors.
func ErrorKindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// kindForStatus maps an HTTP status from a provider API to an ErrorKind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRate
	case status == 408 || status == 504:
		return KindTimeout
	case status == 404 || status == 501:
		return KindUnsupported
	default:
		return KindOther
	}
}

// ctxKind maps a context error to the matching ErrorKind.
func ctxKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindOther
}
