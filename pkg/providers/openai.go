package providers

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yehengbot/yeheng/pkg/config"
)

func init() {
	RegisterFactory(ProviderOpenAI, newOpenAIProvider, validateOpenAIConfig)
}

func validateOpenAIConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("OpenAI credentials are required (set providers.openai.api_key or YEHENG_PROVIDERS_OPENAI_API_KEY)")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.Model) == "" {
		return fmt.Errorf("providers.openai.model is required")
	}
	return nil
}

func newOpenAIProvider(cfg *config.Config) (Provider, error) {
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.Providers.OpenAI.APIKey))
	if base := strings.TrimSpace(cfg.Providers.OpenAI.APIBase); base != "" {
		clientCfg.BaseURL = base
	}
	return &structuredClient{
		name:   ProviderOpenAI,
		model:  strings.TrimSpace(cfg.Providers.OpenAI.Model),
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}
