package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/airlock-ai/airlock/pkg/config"
)

// Registry maps provider tags to configured providers. The first provider
// registered becomes the default. Reads dominate writes heavily (registration
// only happens at startup), so a RWMutex suffices.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	order      []string
	defaultTag string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its tag. The first registration sets the
// registry default. Re-registering a tag replaces the provider.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := p.Tag()
	if _, exists := r.providers[tag]; !exists {
		r.order = append(r.order, tag)
	}
	r.providers[tag] = p
	if r.defaultTag == "" {
		r.defaultTag = tag
	}
}

// Get returns the provider registered under tag.
func (r *Registry) Get(tag string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[tag]
	return p, ok
}

// Default returns the default provider tag, or "" when none is configured.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultTag
}

// Tags returns the registered tags in registration order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, len(r.order))
	copy(tags, r.order)
	return tags
}

// Empty reports whether no provider is configured.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) == 0
}

// Generate dispatches the request to req.Provider, or to the default provider
// when the tag is empty. An unknown tag is a KindUnsupported error.
func (r *Registry) Generate(ctx context.Context, req *Request) (*Response, error) {
	tag := req.Provider
	if tag == "" {
		tag = r.Default()
	}
	if tag == "" {
		return nil, &ProviderError{Kind: KindUnsupported, Provider: "none",
			Message: "no LLM providers configured"}
	}

	p, ok := r.Get(tag)
	if !ok {
		return nil, &ProviderError{Kind: KindUnsupported, Provider: tag,
			Message: "unknown provider tag"}
	}
	return p.Generate(ctx, req)
}

// BuildRegistry inspects the LLM configuration and registers every provider
// whose credentials are complete. Registration order fixes the default:
// LiteLLM proxy first, then direct providers.
func BuildRegistry(cfg config.LLMConfig) *Registry {
	r := NewRegistry()

	if cfg.LiteLLMBaseURL != "" {
		r.Register(newOpenAICompat(openAICompatConfig{
			tag:     "openai",
			baseURL: cfg.LiteLLMBaseURL,
			apiKey:  cfg.LiteLLMAPIKey,
			model:   coalesce(cfg.CoordinatorModel, defaultOpenAIModel),
		}))
	} else if cfg.OpenAIAPIKey != "" {
		r.Register(newOpenAICompat(openAICompatConfig{
			tag:     "openai",
			baseURL: openAIBaseURL,
			apiKey:  cfg.OpenAIAPIKey,
			model:   coalesce(cfg.CoordinatorModel, defaultOpenAIModel),
		}))
	}

	if cfg.AnthropicAPIKey != "" {
		r.Register(newAnthropicProvider(cfg.AnthropicAPIKey,
			coalesce(cfg.CoordinatorModel, defaultAnthropicModel)))
	}

	if cfg.AzureAPIKey != "" && cfg.AzureResourceName != "" {
		r.Register(newAzureProvider(cfg.AzureAPIKey, cfg.AzureResourceName,
			coalesce(cfg.CoordinatorModel, defaultAzureDeployment)))
	}

	if cfg.GoogleCredentials != "" {
		p, err := newGeminiProvider(cfg.GCPProject, cfg.GCPLocation,
			coalesce(cfg.CoordinatorModel, defaultGeminiModel))
		if err != nil {
			slog.Warn("Skipping gcp provider", "error", err)
		} else {
			r.Register(p)
		}
	}

	if cfg.AWSRegion != "" && cfg.BedrockModel != "" {
		p, err := newBedrockProvider(cfg.AWSRegion, cfg.BedrockModel)
		if err != nil {
			slog.Warn("Skipping aws provider", "error", err)
		} else {
			r.Register(p)
		}
	}

	if cfg.OllamaServerURL != "" {
		r.Register(newOpenAICompat(openAICompatConfig{
			tag:     "ollama",
			baseURL: cfg.OllamaServerURL + "/v1",
			model:   coalesce(cfg.CoordinatorModel, defaultOllamaModel),
		}))
	}

	slog.Info("LLM providers configured",
		"tags", r.Tags(), "default", r.Default())
	return r
}

func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
