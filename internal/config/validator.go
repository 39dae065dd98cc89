package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "workflow.max_debug_attempts")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePlatform()...)
	errors = append(errors, c.validateAI()...)
	errors = append(errors, c.validateWorkflow()...)
	errors = append(errors, c.validateDeployment()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePlatform() []ValidationError {
	var errors []ValidationError

	if c.Platform.BaseURL != "" {
		u, err := url.Parse(c.Platform.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "platform.base_url",
				Value:   c.Platform.BaseURL,
				Message: "must be an absolute http(s) URL",
			})
		}
	}
	if c.Platform.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "platform.timeout_seconds",
			Value:   c.Platform.TimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Platform.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "platform.max_retries",
			Value:   c.Platform.MaxRetries,
			Message: "must be at least 1",
		})
	}
	if c.Platform.DiscoveryCacheTTLSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "platform.discovery_cache_ttl_seconds",
			Value:   c.Platform.DiscoveryCacheTTLSeconds,
			Message: "must be non-negative",
		})
	}
	for i, pattern := range c.Platform.ExcludedTopicPatterns {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("platform.excluded_topic_patterns[%d]", i),
				Value:   pattern,
				Message: "invalid glob pattern",
			})
		}
	}

	return errors
}

func (c *Config) validateAI() []ValidationError {
	var errors []ValidationError

	if c.AI.ClaudeCommand == "" && c.AI.ClaudeCLIPath == "" {
		errors = append(errors, ValidationError{
			Field:   "ai.claude_command",
			Value:   c.AI.ClaudeCommand,
			Message: "either ai.claude_command or ai.claude_cli_path must be set",
		})
	}
	if c.AI.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "ai.max_retries",
			Value:   c.AI.MaxRetries,
			Message: "must be at least 1",
		})
	}
	if c.AI.GenerationTimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "ai.generation_timeout_minutes",
			Value:   c.AI.GenerationTimeoutMinutes,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateWorkflow() []ValidationError {
	var errors []ValidationError

	if c.Workflow.MaxDebugAttempts < 1 || c.Workflow.MaxDebugAttempts > 50 {
		errors = append(errors, ValidationError{
			Field:   "workflow.max_debug_attempts",
			Value:   c.Workflow.MaxDebugAttempts,
			Message: "must be between 1 and 50",
		})
	}
	if c.Workflow.SchemaFeedbackRounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "workflow.schema_feedback_rounds",
			Value:   c.Workflow.SchemaFeedbackRounds,
			Message: "must be at least 1",
		})
	}
	if c.Workflow.SandboxRunTimeoutSeconds < 5 {
		errors = append(errors, ValidationError{
			Field:   "workflow.sandbox_run_timeout_seconds",
			Value:   c.Workflow.SandboxRunTimeoutSeconds,
			Message: "must be at least 5",
		})
	}
	// Shorter limits cannot fit a protected suffix plus a random suffix.
	if c.Workflow.MaxAppNameLength < 16 {
		errors = append(errors, ValidationError{
			Field:   "workflow.max_app_name_length",
			Value:   c.Workflow.MaxAppNameLength,
			Message: "must be at least 16",
		})
	}
	if strings.TrimSpace(c.Workflow.WorkingDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "workflow.working_dir",
			Value:   c.Workflow.WorkingDir,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateDeployment() []ValidationError {
	var errors []ValidationError

	if c.Deployment.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "deployment.poll_interval_seconds",
			Value:   c.Deployment.PollIntervalSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Deployment.MaxPolls < 1 {
		errors = append(errors, ValidationError{
			Field:   "deployment.max_polls",
			Value:   c.Deployment.MaxPolls,
			Message: "must be at least 1",
		})
	}
	if c.Deployment.Replicas < 1 {
		errors = append(errors, ValidationError{
			Field:   "deployment.replicas",
			Value:   c.Deployment.Replicas,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
