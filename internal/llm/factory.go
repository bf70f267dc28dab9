package llm

import (
	"fmt"
	"strings"

	"report-checker/internal/config"
)

// NewFromConfig builds the client for the configured provider.
func NewFromConfig(cfg *config.Config) (Client, error) {
	switch config.LLMProvider(strings.ToLower(string(cfg.LLMProvider))) {
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.LLMTemperature,
			Referrer:    cfg.OpenRouterReferrer,
			Title:       cfg.OpenRouterTitle,
		}), nil
	case config.ProviderYandex:
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}
