package llmfactory

import (
	"slices"

	"github.com/effective-security/x/configloader"
)

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" toml:"providers" validate:"dive"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty" toml:"default_provider,omitempty"`
	// AgentModels specifies the mapping of agents to models.
	// key is the agent name, value is the list of preferred models.
	// Use `default: <model_name>` as the default model for agents.
	AgentModels map[string][]string `json:"agent_models,omitempty" yaml:"agent_models,omitempty" toml:"agent_models,omitempty"`
}

// ProviderConfig for a model provider
type ProviderConfig struct {
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`
	// Type specifies the API type: ANTHROPIC
	Type            string   `json:"type" yaml:"type" toml:"type" validate:"required"`
	Token           string   `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	BaseURL         string   `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	DefaultModel    string   `json:"default_model" yaml:"default_model" toml:"default_model" validate:"required"`
	AvailableModels []string `json:"available_models,omitempty" yaml:"available_models,omitempty" toml:"available_models,omitempty"`
	// SystemPrompt is sent with every decision
	SystemPrompt string  `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
	MaxTokens    int64   `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty" validate:"gte=0"`
	Temperature  float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty" validate:"gte=0,lte=1"`
}

func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if model == c.DefaultModel || slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
