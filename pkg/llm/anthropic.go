package llm

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// anthropicProvider backs the anthropic tag with the official SDK.
type anthropicProvider struct {
	tag    string
	client anthropic.Client
	model  string
}

func newAnthropicProvider(apiKey, model string) *anthropicProvider {
	return &anthropicProvider{
		tag:    "anthropic",
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *anthropicProvider) Tag() string { return p.tag }

func (p *anthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapErr(ctx, err)
	}

	var text, thinking strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	out := text.String()
	// Extended-thinking responses occasionally carry the whole answer in the
	// thinking block with no text block at all.
	if strings.TrimSpace(out) == "" {
		out = thinking.String()
	}

	return &Response{
		Text:             out,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		Provider:         p.tag,
		Model:            string(msg.Model),
	}, nil
}

func (p *anthropicProvider) wrapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &ProviderError{Kind: ctxKind(ctx.Err()), Provider: p.tag,
			Message: "request aborted", Err: ctx.Err()}
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Kind: kindForStatus(apiErr.StatusCode), Provider: p.tag,
			Message: "api error", Err: err}
	}
	return &ProviderError{Kind: KindOther, Provider: p.tag,
		Message: "request failed", Err: err}
}
