package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/yehengbot/yeheng/pkg/config"
)

const defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"

func init() {
	RegisterFactory(ProviderOpenRouter, newOpenRouterProvider, validateOpenRouterConfig)
}

func validateOpenRouterConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("OpenRouter credentials are required (set providers.openrouter.api_key or YEHENG_PROVIDERS_OPENROUTER_API_KEY)")
	}
	if strings.TrimSpace(cfg.Providers.OpenRouter.Model) == "" {
		return fmt.Errorf("providers.openrouter.model is required")
	}
	return nil
}

func newOpenRouterProvider(cfg *config.Config) (Provider, error) {
	or := cfg.Providers.OpenRouter

	clientCfg := openai.DefaultConfig(strings.TrimSpace(or.APIKey))
	clientCfg.BaseURL = defaultOpenRouterAPIBase
	if base := strings.TrimSpace(or.APIBase); base != "" {
		clientCfg.BaseURL = base
	}

	// Optional attribution headers OpenRouter uses for app rankings.
	if or.Referrer != "" || or.Title != "" {
		h := http.Header{}
		if or.Referrer != "" {
			h.Set("HTTP-Referer", or.Referrer)
		}
		if or.Title != "" {
			h.Set("X-Title", or.Title)
		}
		clientCfg.HTTPClient = &http.Client{
			Transport: headerTransport{rt: http.DefaultTransport, headers: h},
		}
	}

	return &structuredClient{
		name:   ProviderOpenRouter,
		model:  strings.TrimSpace(or.Model),
		client: openai.NewClientWithConfig(clientCfg),
	}, nil
}
