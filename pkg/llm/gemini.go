package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// geminiProvider backs the gcp tag via the genai SDK. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS, which the SDK reads itself.
type geminiProvider struct {
	client *genai.Client
	model  string
}

func newGeminiProvider(project, location, model string) (*geminiProvider, error) {
	cfg := &genai.ClientConfig{}
	if project != "" {
		cfg.Backend = genai.BackendVertexAI
		cfg.Project = project
		cfg.Location = location
	}
	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiProvider{client: client, model: model}, nil
}

func (p *geminiProvider) Tag() string { return "gcp" }

func (p *geminiProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ProviderError{Kind: ctxKind(ctx.Err()), Provider: "gcp",
				Message: "request aborted", Err: ctx.Err()}
		}
		return nil, &ProviderError{Kind: KindOther, Provider: "gcp",
			Message: "generation failed", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &ProviderError{Kind: KindOther, Provider: "gcp",
			Message: "empty candidates in response"}
	}

	var text, thought strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text == "" {
			continue
		}
		if part.Thought {
			thought.WriteString(part.Text)
		} else {
			text.WriteString(part.Text)
		}
	}
	out := text.String()
	if strings.TrimSpace(out) == "" {
		out = thought.String()
	}

	result := &Response{
		Text:     out,
		Provider: "gcp",
		Model:    model,
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}
