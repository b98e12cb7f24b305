package providers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dotsetgreg/dotchat/pkg/config"
)

const ProviderOpenAI = "openai"

func ValidateProviderConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	p := cfg.Providers.OpenAI
	if base := strings.TrimSpace(p.APIBase); base != "" {
		if _, err := url.ParseRequestURI(base); err != nil {
			return fmt.Errorf("providers.openai.api_base is invalid: %w", err)
		}
	}
	if proxy := strings.TrimSpace(p.Proxy); proxy != "" {
		if _, err := url.Parse(proxy); err != nil {
			return fmt.Errorf("providers.openai.proxy is invalid: %w", err)
		}
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("providers.openai.max_tokens must not be negative")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("providers.openai.temperature must be within [0, 2], got %v", p.Temperature)
	}
	return nil
}

// ProviderCredentialStatus reports whether a process-wide key is configured.
// Users may still bring their own key when it is not.
func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool) {
	if cfg == nil {
		return ProviderOpenAI, false
	}
	return ProviderOpenAI, strings.TrimSpace(cfg.GetAPIKey()) != ""
}

func CreateProvider(cfg *config.Config) (*OpenAIProvider, error) {
	if err := ValidateProviderConfig(cfg); err != nil {
		return nil, err
	}
	p := cfg.Providers.OpenAI
	return NewOpenAIProvider(OpenAIOptions{
		APIBase:     cfg.GetAPIBase(),
		APIKey:      cfg.GetAPIKey(),
		Proxy:       p.Proxy,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
}
