package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Sigap configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Admission budgets
	Governor GovernorConfig `json:"governor" mapstructure:"governor"`

	// ReAct loop
	ReAct ReActConfig `json:"react" mapstructure:"react"`

	// Tool executor and built-in tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Workflow coordinator
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Router/classifier
	Router RouterConfig `json:"router" mapstructure:"router"`

	// AI providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// HTTP/WebSocket gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GovernorConfig holds the two independent concurrency budgets
type GovernorConfig struct {
	MaxReActSessions int `json:"max_react_sessions" mapstructure:"max_react_sessions"`
	MaxWorkflows     int `json:"max_workflows" mapstructure:"max_workflows"`
}

// ReActConfig holds loop engine settings
type ReActConfig struct {
	MaxIterations int `json:"max_iterations" mapstructure:"max_iterations"`
}

// ToolsConfig holds tool executor settings
type ToolsConfig struct {
	Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxResultChars    int           `json:"max_result_chars" mapstructure:"max_result_chars"`
	MaxIdenticalCalls int           `json:"max_identical_calls" mapstructure:"max_identical_calls"`
	RepetitionMatch   string        `json:"repetition_match" mapstructure:"repetition_match"` // exact, normalized
	Timezone          string        `json:"timezone" mapstructure:"timezone"`
	LegalCorpusFile   string        `json:"legal_corpus_file" mapstructure:"legal_corpus_file"`
}

// OrchestratorConfig holds workflow coordinator settings
type OrchestratorConfig struct {
	MaxChainLength  int           `json:"max_chain_length" mapstructure:"max_chain_length"`
	MaxParallel     int           `json:"max_parallel" mapstructure:"max_parallel"`
	WorkflowTimeout time.Duration `json:"workflow_timeout" mapstructure:"workflow_timeout"`
	AgentsFile      string        `json:"agents_file" mapstructure:"agents_file"`
}

// RouterConfig holds classifier selection settings
type RouterConfig struct {
	Classifier          string        `json:"classifier" mapstructure:"classifier"` // keyword, llm, hybrid
	ConfidenceThreshold float64       `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	CacheTTL            time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles    []AIProfile `json:"profiles" mapstructure:"profiles"`
	Model       string      `json:"model" mapstructure:"model"`
	Temperature float64     `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int         `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int         `json:"max_retries" mapstructure:"max_retries"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	DBPath          string `json:"db_path" mapstructure:"db_path"`
	LogPath         string `json:"log_path" mapstructure:"log_path"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Governor: GovernorConfig{
			MaxReActSessions: 10,
			MaxWorkflows:     5,
		},
		ReAct: ReActConfig{
			MaxIterations: 5,
		},
		Tools: ToolsConfig{
			Timeout:           30 * time.Second,
			MaxResultChars:    500,
			MaxIdenticalCalls: 3,
			RepetitionMatch:   "exact",
			Timezone:          "Asia/Jakarta",
		},
		Orchestrator: OrchestratorConfig{
			MaxChainLength:  5,
			MaxParallel:     3,
			WorkflowTimeout: 5 * time.Minute,
		},
		Router: RouterConfig{
			Classifier:          "keyword",
			ConfidenceThreshold: 0.5,
			CacheTTL:            10 * time.Minute,
		},
		AI: AIConfig{
			Profiles:    []AIProfile{},
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.2,
			MaxTokens:   2048,
			MaxRetries:  3,
		},
		Gateway: GatewayConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Audit: AuditConfig{
			RetentionDays:   90,
			CleanupSchedule: "@daily",
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.AI.Profiles[i] = p
	}
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Governor.MaxReActSessions <= 0 {
		return fmt.Errorf("governor.max_react_sessions must be positive, got %d", c.Governor.MaxReActSessions)
	}
	if c.Governor.MaxWorkflows <= 0 {
		return fmt.Errorf("governor.max_workflows must be positive, got %d", c.Governor.MaxWorkflows)
	}

	if c.ReAct.MaxIterations <= 0 || c.ReAct.MaxIterations > 5 {
		return fmt.Errorf("react.max_iterations must be between 1 and 5, got %d", c.ReAct.MaxIterations)
	}

	if c.Tools.Timeout <= 0 || c.Tools.Timeout > 30*time.Second {
		return fmt.Errorf("tools.timeout must be between 0 and 30s, got %s", c.Tools.Timeout)
	}
	if c.Tools.MaxResultChars <= 0 {
		return fmt.Errorf("tools.max_result_chars must be positive, got %d", c.Tools.MaxResultChars)
	}
	if c.Tools.MaxIdenticalCalls <= 0 {
		return fmt.Errorf("tools.max_identical_calls must be positive, got %d", c.Tools.MaxIdenticalCalls)
	}
	if c.Tools.RepetitionMatch != "exact" && c.Tools.RepetitionMatch != "normalized" {
		return fmt.Errorf("invalid tools.repetition_match: %s (must be: exact, normalized)", c.Tools.RepetitionMatch)
	}
	if _, err := time.LoadLocation(c.Tools.Timezone); err != nil {
		return fmt.Errorf("invalid tools.timezone %s: %w", c.Tools.Timezone, err)
	}

	if c.Orchestrator.MaxChainLength <= 0 || c.Orchestrator.MaxChainLength > 5 {
		return fmt.Errorf("orchestrator.max_chain_length must be between 1 and 5, got %d", c.Orchestrator.MaxChainLength)
	}
	if c.Orchestrator.MaxParallel <= 0 {
		return fmt.Errorf("orchestrator.max_parallel must be positive, got %d", c.Orchestrator.MaxParallel)
	}
	if c.Orchestrator.WorkflowTimeout <= 0 {
		return fmt.Errorf("orchestrator.workflow_timeout must be positive")
	}

	switch c.Router.Classifier {
	case "keyword", "llm", "hybrid":
	default:
		return fmt.Errorf("invalid router.classifier: %s (must be: keyword, llm, hybrid)", c.Router.Classifier)
	}
	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return fmt.Errorf("router.confidence_threshold must be between 0 and 1, got %f", c.Router.ConfidenceThreshold)
	}
	if c.Router.Classifier != "keyword" && len(c.AI.Profiles) == 0 {
		return fmt.Errorf("router.classifier %s requires at least one AI profile", c.Router.Classifier)
	}

	v := NewValidator()
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if err := v.ValidateProvider(profile.Provider); err != nil {
			return fmt.Errorf("AI profile %s: %w", profile.ID, err)
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			return fmt.Errorf("AI profile %s: %w", profile.ID, err)
		}
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		return fmt.Errorf("ai.temperature must be between 0 and 1, got %f", c.AI.Temperature)
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway.port: %d", c.Gateway.Port)
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days cannot be negative")
	}
	if c.Audit.CleanupSchedule != "" {
		if err := v.ValidateSchedule(c.Audit.CleanupSchedule); err != nil {
			return fmt.Errorf("audit.cleanup_schedule: %w", err)
		}
	}

	return nil
}
