package llmfactory

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/pkg/llms/anthropic"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "llmfactory")

// ProviderAnthropic is the type of the Anthropic Messages API provider
const ProviderAnthropic = "ANTHROPIC"

// NewEngine is a wrapper for CreateEngine to allow for overriding the default implementation.
var NewEngine = CreateEngine

// Factory is the interface for creating and managing decision engines.
type Factory interface {
	// DefaultEngine returns the engine of the default provider.
	DefaultEngine() (assistants.DecisionEngine, error)
	// EngineByType returns the engine of the first provider of the type, e.g. ANTHROPIC
	EngineByType(providerType string) (assistants.DecisionEngine, error)
	// EngineByName returns the engine of the first available model,
	// if none is found, it will return the default engine.
	EngineByName(preferredModels ...string) (assistants.DecisionEngine, error)
	// AgentEngine returns the engine configured for the agent.
	AgentEngine(agentName string, preferredModels ...string) (assistants.DecisionEngine, error)
}

// Load returns the factory for the config file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	defaultProvider *ProviderConfig
	agentModels     map[string][]string
	byType          map[string]assistants.DecisionEngine
	byName          map[string]assistants.DecisionEngine
	lock            sync.Mutex
}

// New creates a new engine factory
func New(cfg *Config) Factory {
	f := &factory{
		cfg:         cfg,
		byType:      make(map[string]assistants.DecisionEngine),
		byName:      make(map[string]assistants.DecisionEngine),
		agentModels: make(map[string][]string),
	}

	for k, v := range cfg.AgentModels {
		f.agentModels[k] = slices.Clone(v)
	}

	if cfg.DefaultProvider != "" {
		for _, provider := range cfg.Providers {
			if provider.Name == cfg.DefaultProvider {
				f.defaultProvider = provider
				break
			}
		}
	}

	if f.defaultProvider == nil && len(f.cfg.Providers) > 0 {
		f.defaultProvider = f.cfg.Providers[0]
	}

	return f
}

// CreateEngine returns the engine of the provider for the first available model
func CreateEngine(cfg *ProviderConfig, preferredModels ...string) (assistants.DecisionEngine, error) {
	provType := strings.ToUpper(cfg.Type)
	switch provType {
	case ProviderAnthropic:
		return newAnthropic(cfg, preferredModels...)
	}
	return nil, errors.Errorf("unsupported provider type: %s", provType)
}

func newAnthropic(cfg *ProviderConfig, preferredModels ...string) (assistants.DecisionEngine, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.FindModel(preferredModels...)),
		anthropic.WithSystemPrompt(cfg.SystemPrompt),
		anthropic.WithMaxTokens(cfg.MaxTokens),
		anthropic.WithTemperature(cfg.Temperature),
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	return anthropic.New(opts...)
}

func (f *factory) DefaultEngine() (assistants.DecisionEngine, error) {
	if len(f.cfg.Providers) == 0 || f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}

	return NewEngine(f.defaultProvider, f.defaultProvider.DefaultModel)
}

func (f *factory) EngineByType(providerType string) (assistants.DecisionEngine, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if engine, ok := f.byType[providerType]; ok {
		return engine, nil
	}

	for _, cfg := range f.cfg.Providers {
		if strings.EqualFold(cfg.Type, providerType) {
			engine, err := NewEngine(cfg)
			if err != nil {
				return nil, err
			}

			logger.KV(xlog.DEBUG,
				"status", "created_engine",
				"type", cfg.Type,
				"name", cfg.Name,
				"model", engine.Name())

			f.byType[providerType] = engine
			return engine, nil
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) EngineByName(modelNames ...string) (assistants.DecisionEngine, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, modelName := range modelNames {
		if engine, ok := f.byName[modelName]; ok {
			return engine, nil
		}

		for _, cfg := range f.cfg.Providers {
			if modelName == cfg.DefaultModel || slices.Contains(cfg.AvailableModels, modelName) {
				engine, err := NewEngine(cfg, modelName)
				if err != nil {
					logger.KV(xlog.ERROR,
						"reason", "NewEngine",
						"type", cfg.Type,
						"name", cfg.Name,
						"model", modelName,
						"err", err.Error(),
					)
					continue
				}

				logger.KV(xlog.DEBUG,
					"status", "created_engine",
					"type", cfg.Type,
					"name", cfg.Name,
					"model", modelName)

				f.byName[modelName] = engine
				return engine, nil
			}
		}
	}
	return f.DefaultEngine()
}

func (f *factory) AgentEngine(agentName string, preferredModels ...string) (assistants.DecisionEngine, error) {
	if modelNames, ok := f.agentModels[agentName]; ok {
		return f.EngineByName(modelNames...)
	}
	if modelNames, ok := f.agentModels["default"]; ok {
		return f.EngineByName(modelNames...)
	}
	return f.EngineByName(preferredModels...)
}
