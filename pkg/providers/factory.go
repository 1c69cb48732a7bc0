package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yehengbot/yeheng/pkg/config"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

type providerFactory struct {
	build    func(cfg *config.Config) (Provider, error)
	validate func(cfg *config.Config) error
}

var (
	factoryMu sync.RWMutex
	factories = map[string]providerFactory{}
)

func RegisterFactory(name string, build func(cfg *config.Config) (Provider, error), validate func(cfg *config.Config) error) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[NormalizeProviderName(name)] = providerFactory{build: build, validate: validate}
}

func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOpenAI
	}
	return name
}

// ValidateProviderConfig checks that the active backend has usable
// credentials. Startup aborts on failure rather than running degraded.
func ValidateProviderConfig(cfg *config.Config) error {
	factory, _, err := getFactory(cfg)
	if err != nil {
		return err
	}
	if factory.validate == nil {
		return nil
	}
	return factory.validate(cfg)
}

// CreateProvider resolves the configured backend once. Per-request branching
// on provider type does not exist anywhere downstream of this call.
func CreateProvider(cfg *config.Config) (Provider, error) {
	factory, name, err := getFactory(cfg)
	if err != nil {
		return nil, err
	}
	if factory.validate != nil {
		if err := factory.validate(cfg); err != nil {
			return nil, err
		}
	}
	provider, err := factory.build(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", name, err)
	}
	return provider, nil
}

func getFactory(cfg *config.Config) (providerFactory, string, error) {
	name := NormalizeProviderName(cfg.Providers.Active)

	factoryMu.RLock()
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return providerFactory{}, name, fmt.Errorf("unsupported provider %q: supported providers are %s",
			name, strings.Join(SupportedProviders(), ", "))
	}
	return factory, name, nil
}
