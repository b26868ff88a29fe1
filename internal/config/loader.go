package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, environment and defaults
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix("SIGAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	bindDefaults(v, cfg)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".sigap")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "sigap.log")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.Audit.LogPath == "" {
		cfg.Audit.LogPath = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

// bindDefaults registers every default with viper so that environment
// variables can override keys that are absent from the file.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("governor.max_react_sessions", cfg.Governor.MaxReActSessions)
	v.SetDefault("governor.max_workflows", cfg.Governor.MaxWorkflows)
	v.SetDefault("react.max_iterations", cfg.ReAct.MaxIterations)
	v.SetDefault("tools.timeout", cfg.Tools.Timeout)
	v.SetDefault("tools.max_result_chars", cfg.Tools.MaxResultChars)
	v.SetDefault("tools.max_identical_calls", cfg.Tools.MaxIdenticalCalls)
	v.SetDefault("tools.repetition_match", cfg.Tools.RepetitionMatch)
	v.SetDefault("tools.timezone", cfg.Tools.Timezone)
	v.SetDefault("orchestrator.max_chain_length", cfg.Orchestrator.MaxChainLength)
	v.SetDefault("orchestrator.max_parallel", cfg.Orchestrator.MaxParallel)
	v.SetDefault("orchestrator.workflow_timeout", cfg.Orchestrator.WorkflowTimeout)
	v.SetDefault("router.classifier", cfg.Router.Classifier)
	v.SetDefault("router.confidence_threshold", cfg.Router.ConfidenceThreshold)
	v.SetDefault("router.cache_ttl", cfg.Router.CacheTTL)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.temperature", cfg.AI.Temperature)
	v.SetDefault("ai.max_tokens", cfg.AI.MaxTokens)
	v.SetDefault("ai.max_retries", cfg.AI.MaxRetries)
	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.shared_secret", cfg.Gateway.SharedSecret)
	v.SetDefault("audit.retention_days", cfg.Audit.RetentionDays)
	v.SetDefault("audit.cleanup_schedule", cfg.Audit.CleanupSchedule)
	v.SetDefault("data_dir", cfg.DataDir)
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("config path could not be determined")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("json")
	}

	v.Set("logging", cfg.Logging)
	v.Set("governor", cfg.Governor)
	v.Set("react", cfg.ReAct)
	v.Set("tools", cfg.Tools)
	v.Set("orchestrator", cfg.Orchestrator)
	v.Set("router", cfg.Router)
	v.Set("ai", cfg.AI)
	v.Set("gateway", cfg.Gateway)
	v.Set("audit", cfg.Audit)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sigap", "sigap.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
