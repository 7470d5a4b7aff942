package coordinator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/airlock-ai/airlock/pkg/llm"
)

// translateToEnglish converts the query to English for routing and dispatch.
// English input (or empty language) is returned unchanged with no LLM call;
// a translation failure degrades to the original text.
func (c *Coordinator) translateToEnglish(ctx context.Context, text, language, provider string,
	ledger *tokenLedger) string {
	if isEnglish(language) {
		return text
	}
	return c.translate(ctx,
		"Translate the following text to English. Reply with only the translation, nothing else.\n\n"+text,
		text, provider, ledger)
}

// translateBack converts the final answer into the user's language.
func (c *Coordinator) translateBack(ctx context.Context, text, language, provider string,
	ledger *tokenLedger) string {
	if isEnglish(language) {
		return text
	}
	return c.translate(ctx,
		"Translate the following text to the language with ISO code \""+language+
			"\". Reply with only the translation, nothing else.\n\n"+text,
		text, provider, ledger)
}

func (c *Coordinator) translate(ctx context.Context, prompt, fallback, provider string,
	ledger *tokenLedger) string {

	resp, err := c.llm.Generate(ctx, &llm.Request{
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   1024,
		Provider:    provider,
		Model:       c.translationModel,
	})
	if err != nil {
		slog.Warn("Translation failed, continuing with original text", "error", err)
		return fallback
	}
	ledger.addCoordinator(resp, c.estimator, prompt)

	translated := strings.TrimSpace(resp.Text)
	if translated == "" {
		return fallback
	}
	return translated
}

func isEnglish(language string) bool {
	language = strings.ToLower(strings.TrimSpace(language))
	return language == "" || language == "en" || strings.HasPrefix(language, "en-")
}
