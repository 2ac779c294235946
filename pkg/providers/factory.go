package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/chitra/pkg/config"
)

const ProviderOllama = "ollama"

type providerFactory struct {
	build    func(cfg *config.Config) (LLMProvider, error)
	validate func(cfg *config.Config) error
}

var (
	factoryMu       sync.RWMutex
	factories       = map[string]providerFactory{}
	registrationErr error
)

func init() {
	RegisterFactory(ProviderOllama,
		func(cfg *config.Config) (LLMProvider, error) {
			return NewOllamaProvider(cfg.Model.Endpoint, cfg.Model.Name, cfg.InferenceTimeout()), nil
		},
		func(cfg *config.Config) error {
			endpoint := strings.TrimSpace(cfg.Model.Endpoint)
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				return fmt.Errorf("model.endpoint must be an http(s) URL, got %q", endpoint)
			}
			return nil
		})
}

func RegisterFactory(name string, build func(cfg *config.Config) (LLMProvider, error), validate func(cfg *config.Config) error) {
	name = NormalizeProviderName(name)
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if build == nil {
		registrationErr = errors.Join(registrationErr, fmt.Errorf("providers: factory build func is required"))
		return
	}
	factories[name] = providerFactory{build: build, validate: validate}
}

func SupportedProviders() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	providers := make([]string, 0, len(factories))
	for name := range factories {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return providers
}

func NormalizeProviderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderOllama
	}
	return name
}

func ValidateProviderConfig(cfg *config.Config) error {
	factory, err := getFactory(cfg)
	if err != nil {
		return err
	}
	if factory.validate == nil {
		return nil
	}
	return factory.validate(cfg)
}

func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	factory, err := getFactory(cfg)
	if err != nil {
		return nil, err
	}
	if factory.validate != nil {
		if err := factory.validate(cfg); err != nil {
			return nil, err
		}
	}
	return factory.build(cfg)
}

func getFactory(cfg *config.Config) (providerFactory, error) {
	name := NormalizeProviderName(cfg.Model.Provider)

	factoryMu.RLock()
	if registrationErr != nil {
		err := registrationErr
		factoryMu.RUnlock()
		return providerFactory{}, fmt.Errorf("provider registration failed: %w", err)
	}
	factory, ok := factories[name]
	factoryMu.RUnlock()
	if !ok {
		return providerFactory{}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(SupportedProviders(), ", "))
	}
	return factory, nil
}
