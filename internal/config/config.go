package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Klaus configuration
type Config struct {
	Platform   PlatformConfig   `mapstructure:"platform"`
	AI         AIConfig         `mapstructure:"ai"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Library    LibraryConfig    `mapstructure:"library"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// PlatformConfig controls access to the cloud platform REST API
type PlatformConfig struct {
	// BaseURL is the portal API root, e.g. "https://portal-api.platform.quix.io"
	BaseURL string `mapstructure:"base_url"`
	// Token is the personal access token. Usually supplied via KLAUS_PLATFORM_TOKEN.
	Token string `mapstructure:"token"`
	// DefaultWorkspaceID pre-selects a workspace in prerequisite collection
	DefaultWorkspaceID string `mapstructure:"default_workspace_id"`
	// TimeoutSeconds is the per-request HTTP timeout
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// MaxRetries is the attempt cap for transient HTTP failures (default: 5)
	MaxRetries int `mapstructure:"max_retries"`
	// ExcludedTopicPatterns are glob patterns of internal topics hidden from selection
	ExcludedTopicPatterns []string `mapstructure:"excluded_topic_patterns"`
	// DiscoveryCacheTTLSeconds is how long workspace/topic/app listings are cached
	DiscoveryCacheTTLSeconds int `mapstructure:"discovery_cache_ttl_seconds"`
}

// AIConfig controls the AI agents
type AIConfig struct {
	// ClaudeCommand is the Claude Code CLI command name (default: "claude")
	ClaudeCommand string `mapstructure:"claude_command"`
	// ClaudeCLIPath is an explicit path to the CLI executable; overrides ClaudeCommand
	ClaudeCLIPath string `mapstructure:"claude_cli_path"`
	// SkipPermissions passes --dangerously-skip-permissions to the CLI (default: true)
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// Model is the model passed to the Claude Code CLI; empty uses the CLI default
	Model string `mapstructure:"model"`
	// APIModel is the model used for lightweight Messages API sub-agents
	APIModel string `mapstructure:"api_model"`
	// MaxRetries is the attempt cap for transient AI failures (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// GenerationTimeoutMinutes bounds a single generate/debug call
	GenerationTimeoutMinutes int `mapstructure:"generation_timeout_minutes"`
}

// WorkflowConfig controls workflow behaviour
type WorkflowConfig struct {
	// MaxDebugAttempts is the auto-debug attempt budget (default: 10)
	MaxDebugAttempts int `mapstructure:"max_debug_attempts"`
	// SchemaFeedbackRounds caps feedback-driven schema re-analyses (default: 5)
	SchemaFeedbackRounds int `mapstructure:"schema_feedback_rounds"`
	// SandboxRunTimeoutSeconds bounds a single sandbox test run (default: 60)
	SandboxRunTimeoutSeconds int `mapstructure:"sandbox_run_timeout_seconds"`
	// MaxAppNameLength caps generated application names (default: 50)
	MaxAppNameLength int `mapstructure:"max_app_name_length"`
	// WorkingDir is where generated applications are extracted (default: "working_files")
	WorkingDir string `mapstructure:"working_dir"`
}

// DeploymentConfig controls deployment creation and status polling
type DeploymentConfig struct {
	// PollIntervalSeconds is the delay between status polls (default: 10)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// MaxPolls bounds status polling (default: 60)
	MaxPolls int `mapstructure:"max_polls"`
	// CPUMillicores is the deployment CPU request (default: 200)
	CPUMillicores int `mapstructure:"cpu_millicores"`
	// MemoryMB is the deployment memory request (default: 500)
	MemoryMB int `mapstructure:"memory_mb"`
	// Replicas is the deployment replica count (default: 1)
	Replicas int `mapstructure:"replicas"`
}

// CacheConfig controls where approved artifacts are persisted
type CacheConfig struct {
	// Dir is the cache root; artifacts live at {dir}/{workflow}/{artifact}/... (default: "cache")
	Dir string `mapstructure:"dir"`
}

// LibraryConfig controls the connector template library
type LibraryConfig struct {
	// Dir is the root of the template library (default: "library")
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether file logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory (default: ".klaus/logs")
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig controls OpenTelemetry tracing of workflow runs
type TelemetryConfig struct {
	// Enabled exports spans to TraceFile (default: false)
	Enabled bool `mapstructure:"enabled"`
	// TraceFile is the file receiving stdouttrace JSON (default: ".klaus/logs/trace.json")
	TraceFile string `mapstructure:"trace_file"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Platform: PlatformConfig{
			BaseURL:                  "https://portal-api.platform.quix.io",
			TimeoutSeconds:           30,
			MaxRetries:               5,
			ExcludedTopicPatterns:    []string{"changelog__*", "source__*"},
			DiscoveryCacheTTLSeconds: 60,
		},
		AI: AIConfig{
			ClaudeCommand:            "claude",
			SkipPermissions:          true,
			APIModel:                 "claude-3-5-haiku-latest",
			MaxRetries:               3,
			GenerationTimeoutMinutes: 15,
		},
		Workflow: WorkflowConfig{
			MaxDebugAttempts:         10,
			SchemaFeedbackRounds:     5,
			SandboxRunTimeoutSeconds: 60,
			MaxAppNameLength:         50,
			WorkingDir:               "working_files",
		},
		Deployment: DeploymentConfig{
			PollIntervalSeconds: 10,
			MaxPolls:            60,
			CPUMillicores:       200,
			MemoryMB:            500,
			Replicas:            1,
		},
		Cache: CacheConfig{
			Dir: "cache",
		},
		Library: LibraryConfig{
			Dir: "library",
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     filepath.Join(".klaus", "logs"),
		},
		Telemetry: TelemetryConfig{
			Enabled:   false,
			TraceFile: filepath.Join(".klaus", "logs", "trace.json"),
		},
	}
}

// RequestTimeout returns the platform HTTP timeout as a time.Duration
func (c *PlatformConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DiscoveryCacheTTL returns the discovery cache TTL as a time.Duration
func (c *PlatformConfig) DiscoveryCacheTTL() time.Duration {
	return time.Duration(c.DiscoveryCacheTTLSeconds) * time.Second
}

// GenerationTimeout returns the per-call AI timeout as a time.Duration
func (c *AIConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutMinutes) * time.Minute
}

// ClaudeExecutable returns the CLI executable to invoke
func (c *AIConfig) ClaudeExecutable() string {
	if c.ClaudeCLIPath != "" {
		return c.ClaudeCLIPath
	}
	if c.ClaudeCommand != "" {
		return c.ClaudeCommand
	}
	return "claude"
}

// SandboxRunTimeout returns the sandbox run timeout as a time.Duration
func (c *WorkflowConfig) SandboxRunTimeout() time.Duration {
	return time.Duration(c.SandboxRunTimeoutSeconds) * time.Second
}

// PollInterval returns the deployment poll interval as a time.Duration
func (c *DeploymentConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Platform defaults
	viper.SetDefault("platform.base_url", defaults.Platform.BaseURL)
	viper.SetDefault("platform.token", defaults.Platform.Token)
	viper.SetDefault("platform.default_workspace_id", defaults.Platform.DefaultWorkspaceID)
	viper.SetDefault("platform.timeout_seconds", defaults.Platform.TimeoutSeconds)
	viper.SetDefault("platform.max_retries", defaults.Platform.MaxRetries)
	viper.SetDefault("platform.excluded_topic_patterns", defaults.Platform.ExcludedTopicPatterns)
	viper.SetDefault("platform.discovery_cache_ttl_seconds", defaults.Platform.DiscoveryCacheTTLSeconds)

	// AI defaults
	viper.SetDefault("ai.claude_command", defaults.AI.ClaudeCommand)
	viper.SetDefault("ai.claude_cli_path", defaults.AI.ClaudeCLIPath)
	viper.SetDefault("ai.skip_permissions", defaults.AI.SkipPermissions)
	viper.SetDefault("ai.model", defaults.AI.Model)
	viper.SetDefault("ai.api_model", defaults.AI.APIModel)
	viper.SetDefault("ai.max_retries", defaults.AI.MaxRetries)
	viper.SetDefault("ai.generation_timeout_minutes", defaults.AI.GenerationTimeoutMinutes)

	// Workflow defaults
	viper.SetDefault("workflow.max_debug_attempts", defaults.Workflow.MaxDebugAttempts)
	viper.SetDefault("workflow.schema_feedback_rounds", defaults.Workflow.SchemaFeedbackRounds)
	viper.SetDefault("workflow.sandbox_run_timeout_seconds", defaults.Workflow.SandboxRunTimeoutSeconds)
	viper.SetDefault("workflow.max_app_name_length", defaults.Workflow.MaxAppNameLength)
	viper.SetDefault("workflow.working_dir", defaults.Workflow.WorkingDir)

	// Deployment defaults
	viper.SetDefault("deployment.poll_interval_seconds", defaults.Deployment.PollIntervalSeconds)
	viper.SetDefault("deployment.max_polls", defaults.Deployment.MaxPolls)
	viper.SetDefault("deployment.cpu_millicores", defaults.Deployment.CPUMillicores)
	viper.SetDefault("deployment.memory_mb", defaults.Deployment.MemoryMB)
	viper.SetDefault("deployment.replicas", defaults.Deployment.Replicas)

	// Cache and library defaults
	viper.SetDefault("cache.dir", defaults.Cache.Dir)
	viper.SetDefault("library.dir", defaults.Library.Dir)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.trace_file", defaults.Telemetry.TraceFile)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "klaus")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klaus"
	}
	return filepath.Join(home, ".config", "klaus")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
