package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"digitaltwin/internal/config"
	"digitaltwin/internal/domain"
)

// ProviderConstructor creates a cloud provider from the cloud config section.
type ProviderConstructor func(pc config.CloudProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider

// Factory builds the local and cloud providers and the selector from config.
type Factory struct {
	cfg          config.ProvidersConfig
	logger       *slog.Logger
	client       *http.Client
	constructors map[string]ProviderConstructor
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg config.ProvidersConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		client:       SharedHTTPClient(time.Duration(cfg.TimeoutSeconds) * time.Second),
		constructors: make(map[string]ProviderConstructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a cloud provider constructor by kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["groq"] = func(pc config.CloudProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: "groq", APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, Logger: logger, Client: client})
	}
	f.constructors["openai"] = func(pc config.CloudProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{Name: "openai", APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, Logger: logger, Client: client})
	}
	f.constructors["claude"] = func(pc config.CloudProviderConfig, client *http.Client, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.Model, Logger: logger, Client: client})
	}
}

// Local returns the local provider.
func (f *Factory) Local() (domain.Provider, error) {
	lc := f.cfg.Local
	switch lc.Kind {
	case "", "ollama":
		return NewOllamaWithClient(OllamaConfig{APIBase: lc.APIBase, DefaultModel: lc.Model, Logger: f.logger}, f.client), nil
	default:
		return nil, fmt.Errorf("unknown local provider kind: %s", lc.Kind)
	}
}

// Cloud returns the cloud provider for the configured kind.
func (f *Factory) Cloud() (domain.Provider, error) {
	kind := f.cfg.Cloud.Kind
	if kind == "" {
		kind = "groq"
	}
	ctor, ok := f.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown cloud provider kind: %s", kind)
	}
	return ctor(f.cfg.Cloud, f.client, f.logger), nil
}

// Selector wires both providers into a Selector honoring the configured preference.
func (f *Factory) Selector() (*Selector, error) {
	cloud, err := f.Cloud()
	if err != nil {
		return nil, err
	}
	var local domain.Provider
	pref := domain.ModeCloud
	if f.cfg.Preference == config.PreferLocal {
		pref = domain.ModeLocal
		if local, err = f.Local(); err != nil {
			return nil, err
		}
	}
	return NewSelector(SelectorConfig{
		Local:        local,
		Cloud:        cloud,
		Preference:   pref,
		CallTimeout:  time.Duration(f.cfg.TimeoutSeconds) * time.Second,
		ProbeTimeout: time.Duration(f.cfg.ProbeTimeoutSeconds) * time.Second,
		Logger:       f.logger,
	}), nil
}
