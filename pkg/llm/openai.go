package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL          = "https://api.openai.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOllamaModel     = "llama3.1"
	defaultAzureDeployment = "gpt-4o-mini"
	azureAPIVersion        = "2024-06-01"
)

// openAICompat speaks the OpenAI chat-completions wire format. It backs the
// openai tag (api.openai.com or a LiteLLM proxy), the ollama tag (Ollama's
// /v1 compatibility endpoint), and — with a resource-scoped URL and api-key
// header — the azure tag.
type openAICompat struct {
	tag         string
	baseURL     string
	apiKey      string
	model       string
	azureAPIKey bool // send api-key header instead of Authorization
	client      *http.Client
}

type openAICompatConfig struct {
	tag         string
	baseURL     string
	apiKey      string
	model       string
	azureAPIKey bool
}

func newOpenAICompat(cfg openAICompatConfig) *openAICompat {
	return &openAICompat{
		tag:         cfg.tag,
		baseURL:     strings.TrimRight(cfg.baseURL, "/"),
		apiKey:      cfg.apiKey,
		model:       cfg.model,
		azureAPIKey: cfg.azureAPIKey,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 5 * time.Minute,
			},
		},
	}
}

// newAzureProvider builds the azure tag: same wire format, deployment-scoped
// URL, api-key header.
func newAzureProvider(apiKey, resourceName, deployment string) *openAICompat {
	base := fmt.Sprintf("https://%s.openai.azure.com/openai/deployments/%s",
		resourceName, deployment)
	p := newOpenAICompat(openAICompatConfig{
		tag:         "azure",
		baseURL:     base,
		apiKey:      apiKey,
		model:       deployment,
		azureAPIKey: true,
	})
	return p
}

func (p *openAICompat) Tag() string { return p.tag }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			// Reasoning models may put the generation here and leave
			// content empty; both are inspected.
			Thinking         string `json:"thinking"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *openAICompat) Generate(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "marshal request", Err: err}
	}

	url := p.baseURL + "/chat/completions"
	if p.azureAPIKey {
		url += "?api-version=" + azureAPIVersion
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		if p.azureAPIKey {
			httpReq.Header.Set("api-key", p.apiKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProviderError{Kind: ctxKind(ctx.Err()), Provider: p.tag,
				Message: "request aborted", Err: ctx.Err()}
		}
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Kind: kindForStatus(resp.StatusCode), Provider: p.tag,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), 300))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Kind: KindOther, Provider: p.tag,
			Message: "empty choices in response"}
	}

	msg := parsed.Choices[0].Message
	text := msg.Content
	// Rescue reasoning-model output that landed in the thinking field.
	if strings.TrimSpace(text) == "" {
		if msg.Thinking != "" {
			text = msg.Thinking
		} else if msg.ReasoningContent != "" {
			text = msg.ReasoningContent
		}
	}

	return &Response{
		Text:             text,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Provider:         p.tag,
		Model:            parsed.Model,
	}, nil
}

func buildMessages(req *Request) []chatMessage {
	var msgs []chatMessage
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	return msgs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
