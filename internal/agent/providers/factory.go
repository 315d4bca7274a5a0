package providers

import (
	"errors"

	"github.com/auroraops/aurora/internal/agent"
	"github.com/auroraops/aurora/internal/config"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// New selects the chat backend from configuration: direct Anthropic when an
// Anthropic key is present, else the OpenRouter gateway, else OpenAI.
func New(cfg config.LLMConfig) (agent.LLMProvider, error) {
	switch {
	case cfg.AnthropicAPIKey != "":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.AnthropicAPIKey,
			DefaultModel: cfg.DefaultModel,
		})
	case cfg.OpenRouterAPIKey != "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.OpenRouterAPIKey,
			BaseURL:      openRouterBaseURL,
			Name:         "openrouter",
			DefaultModel: cfg.DefaultModel,
		})
	case cfg.OpenAIAPIKey != "":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			DefaultModel: cfg.DefaultModel,
		})
	default:
		return nil, errors.New("providers: no LLM credentials configured")
	}
}
