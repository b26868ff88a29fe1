package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ConfigLoader loads specialist catalogs from files
type ConfigLoader struct {
	logger zerolog.Logger
}

// NewConfigLoader creates a new ConfigLoader instance
func NewConfigLoader(logger zerolog.Logger) *ConfigLoader {
	return &ConfigLoader{
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// MainConfig represents the catalog file structure
type MainConfig struct {
	Agents []AgentConfig `json:"agents" yaml:"agents"`
}

// LoadFromFile loads agent configurations from a JSON or YAML file
func (cl *ConfigLoader) LoadFromFile(path string) ([]AgentConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var agents []AgentConfig
	switch ext := filepath.Ext(path); ext {
	case ".json":
		agents, err = cl.LoadFromJSON(string(data))
	case ".yaml", ".yml":
		agents, err = cl.LoadFromYAML(string(data))
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .json, .yaml, .yml)", ext)
	}
	if err != nil {
		return nil, err
	}

	cl.logger.Info().
		Str("path", path).
		Int("count", len(agents)).
		Msg("Loaded agent configurations from file")

	return agents, nil
}

// LoadAndValidate loads agent configurations from a file and validates them
func (cl *ConfigLoader) LoadAndValidate(path string) ([]AgentConfig, error) {
	configs, err := cl.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := cl.ValidateConfigs(configs); err != nil {
		return nil, err
	}

	return configs, nil
}

// ValidateConfigs validates a list of agent configurations
func (cl *ConfigLoader) ValidateConfigs(configs []AgentConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("no agent configurations found")
	}

	seenIDs := make(map[string]bool)

	for i, config := range configs {
		if err := config.Validate(); err != nil {
			return fmt.Errorf("agent config at index %d is invalid: %w", i, err)
		}

		if seenIDs[config.ID] {
			return fmt.Errorf("duplicate agent ID found: %s", config.ID)
		}
		seenIDs[config.ID] = true
	}

	return nil
}

// LoadFromJSON loads agent configurations from a JSON string
func (cl *ConfigLoader) LoadFromJSON(jsonStr string) ([]AgentConfig, error) {
	if jsonStr == "" {
		return nil, fmt.Errorf("JSON string is required")
	}

	var mainConfig MainConfig
	if err := json.Unmarshal([]byte(jsonStr), &mainConfig); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	return mainConfig.Agents, nil
}

// LoadFromYAML loads agent configurations from a YAML string
func (cl *ConfigLoader) LoadFromYAML(yamlStr string) ([]AgentConfig, error) {
	if yamlStr == "" {
		return nil, fmt.Errorf("YAML string is required")
	}

	var mainConfig MainConfig
	if err := yaml.Unmarshal([]byte(yamlStr), &mainConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return mainConfig.Agents, nil
}

// LoadCatalog builds the registry from path, or from the built-in catalog
// when path is empty.
func LoadCatalog(path string, logger zerolog.Logger) (*Registry, error) {
	if path == "" {
		return NewRegistryFrom(DefaultAgents())
	}

	configs, err := NewConfigLoader(logger).LoadAndValidate(path)
	if err != nil {
		return nil, err
	}
	return NewRegistryFrom(configs)
}
