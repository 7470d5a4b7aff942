package config

import "os"

// LLMConfig carries the raw credentials and model names for every provider
// the adapter may construct. Which providers actually come up is decided in
// pkg/llm by inspecting which credential sets are complete.
type LLMConfig struct {
	// LiteLLM proxy (OpenAI-compatible). When set it takes priority as the
	// default provider and is registered under the "openai" tag.
	LiteLLMBaseURL string
	LiteLLMAPIKey  string

	OpenAIAPIKey string

	AnthropicAPIKey string

	AWSRegion    string
	BedrockModel string

	AzureAPIKey       string
	AzureResourceName string

	// GoogleCredentials is the GOOGLE_APPLICATION_CREDENTIALS path; its
	// presence enables the gcp provider (the genai SDK reads the file itself).
	GoogleCredentials string
	GCPProject        string
	GCPLocation       string

	OllamaServerURL string

	// CoordinatorModel is used for routing, synthesis, and validation calls.
	// TranslationModel is used for the translate steps. Empty values fall
	// back to per-provider defaults.
	CoordinatorModel string
	TranslationModel string
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		LiteLLMBaseURL:    os.Getenv("LITELLM_BASE_URL"),
		LiteLLMAPIKey:     os.Getenv("LITELLM_API_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		AWSRegion:         os.Getenv("AWS_REGION"),
		BedrockModel:      os.Getenv("BEDROCK_MODEL"),
		AzureAPIKey:       os.Getenv("AZURE_API_KEY"),
		AzureResourceName: os.Getenv("AZURE_RESOURCE_NAME"),
		GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GCPProject:        os.Getenv("GCP_PROJECT"),
		GCPLocation:       os.Getenv("GCP_LOCATION"),
		OllamaServerURL:   os.Getenv("OLLAMA_SERVER_URL"),
		CoordinatorModel:  os.Getenv("COORDINATOR_MODEL"),
		TranslationModel:  os.Getenv("TRANSLATION_MODEL"),
	}
}
