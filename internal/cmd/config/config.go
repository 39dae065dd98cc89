// Package config provides CLI commands for managing Klaus configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	appconfig "github.com/Iron-Ham/klaus/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Value kinds accepted by `config set`.
const (
	kindString = "string"
	kindBool   = "bool"
	kindInt    = "int"
	kindLevel  = "level"
)

type setting struct {
	kind string
	def  func(*appconfig.Config) any
}

// settings are the keys `config set` and `config reset` accept. The platform
// token is not among them; it comes from KLAUS_PLATFORM_TOKEN.
var settings = map[string]setting{
	"platform.base_url":                    {kindString, func(c *appconfig.Config) any { return c.Platform.BaseURL }},
	"platform.default_workspace_id":        {kindString, func(c *appconfig.Config) any { return c.Platform.DefaultWorkspaceID }},
	"platform.timeout_seconds":             {kindInt, func(c *appconfig.Config) any { return c.Platform.TimeoutSeconds }},
	"platform.max_retries":                 {kindInt, func(c *appconfig.Config) any { return c.Platform.MaxRetries }},
	"platform.discovery_cache_ttl_seconds": {kindInt, func(c *appconfig.Config) any { return c.Platform.DiscoveryCacheTTLSeconds }},
	"ai.claude_command":                    {kindString, func(c *appconfig.Config) any { return c.AI.ClaudeCommand }},
	"ai.claude_cli_path":                   {kindString, func(c *appconfig.Config) any { return c.AI.ClaudeCLIPath }},
	"ai.skip_permissions":                  {kindBool, func(c *appconfig.Config) any { return c.AI.SkipPermissions }},
	"ai.model":                             {kindString, func(c *appconfig.Config) any { return c.AI.Model }},
	"ai.api_model":                         {kindString, func(c *appconfig.Config) any { return c.AI.APIModel }},
	"ai.max_retries":                       {kindInt, func(c *appconfig.Config) any { return c.AI.MaxRetries }},
	"ai.generation_timeout_minutes":        {kindInt, func(c *appconfig.Config) any { return c.AI.GenerationTimeoutMinutes }},
	"workflow.max_debug_attempts":          {kindInt, func(c *appconfig.Config) any { return c.Workflow.MaxDebugAttempts }},
	"workflow.schema_feedback_rounds":      {kindInt, func(c *appconfig.Config) any { return c.Workflow.SchemaFeedbackRounds }},
	"workflow.sandbox_run_timeout_seconds": {kindInt, func(c *appconfig.Config) any { return c.Workflow.SandboxRunTimeoutSeconds }},
	"workflow.max_app_name_length":         {kindInt, func(c *appconfig.Config) any { return c.Workflow.MaxAppNameLength }},
	"workflow.working_dir":                 {kindString, func(c *appconfig.Config) any { return c.Workflow.WorkingDir }},
	"deployment.poll_interval_seconds":     {kindInt, func(c *appconfig.Config) any { return c.Deployment.PollIntervalSeconds }},
	"deployment.max_polls":                 {kindInt, func(c *appconfig.Config) any { return c.Deployment.MaxPolls }},
	"deployment.cpu_millicores":            {kindInt, func(c *appconfig.Config) any { return c.Deployment.CPUMillicores }},
	"deployment.memory_mb":                 {kindInt, func(c *appconfig.Config) any { return c.Deployment.MemoryMB }},
	"deployment.replicas":                  {kindInt, func(c *appconfig.Config) any { return c.Deployment.Replicas }},
	"cache.dir":                            {kindString, func(c *appconfig.Config) any { return c.Cache.Dir }},
	"library.dir":                          {kindString, func(c *appconfig.Config) any { return c.Library.Dir }},
	"logging.enabled":                      {kindBool, func(c *appconfig.Config) any { return c.Logging.Enabled }},
	"logging.level":                        {kindLevel, func(c *appconfig.Config) any { return c.Logging.Level }},
	"logging.dir":                          {kindString, func(c *appconfig.Config) any { return c.Logging.Dir }},
	"telemetry.enabled":                    {kindBool, func(c *appconfig.Config) any { return c.Telemetry.Enabled }},
	"telemetry.trace_file":                 {kindString, func(c *appconfig.Config) any { return c.Telemetry.TraceFile }},
}

func settingKeys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Register adds the config command tree to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(NewCommand())
}

// NewCommand builds the `config` command and its subcommands.
func NewCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify Klaus configuration",
		Long: `View or modify Klaus configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		newSetCommand(),
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/klaus/config.yaml with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE:  runConfigPath,
		},
		&cobra.Command{
			Use:   "reset [key]",
			Short: "Reset configuration to defaults",
			Long: `Reset configuration values to their defaults.

Without arguments, resets every key listed by 'klaus config set --help'.
With a key argument, resets only that key.`,
			Args: cobra.MaximumNArgs(1),
			RunE: runConfigReset,
		},
	)
	return configCmd
}

// newSetCommand builds `config set`. Flag parsing stops at the key, so a
// negative value is read as the value rather than a shorthand flag.
func newSetCommand() *cobra.Command {
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  klaus config set workflow.max_debug_attempts 5
  klaus config set deployment.replicas 2
  klaus config set logging.level debug

Valid keys:
  ` + strings.Join(settingKeys(), "\n  ") + `

The platform token is not stored by this command; set KLAUS_PLATFORM_TOKEN.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	}
	setCmd.Flags().SetInterspersed(false)
	return setCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "Config file: (none - using defaults)")
	}
	fmt.Fprintln(out)

	printSettings(out, cfg)
	return nil
}

// printSettings writes every setting grouped by section, with the token
// reported as set or not set only.
func printSettings(out io.Writer, cfg *appconfig.Config) {
	section := ""
	for _, key := range settingKeys() {
		head, name, _ := strings.Cut(key, ".")
		if head != section {
			section = head
			fmt.Fprintf(out, "%s:\n", section)
			if section == "platform" {
				token := "(not set)"
				if cfg.Platform.Token != "" {
					token = "(set)"
				}
				fmt.Fprintf(out, "  token: %s\n", token)
				fmt.Fprintf(out, "  excluded_topic_patterns: %s\n", strings.Join(cfg.Platform.ExcludedTopicPatterns, ", "))
			}
		}
		fmt.Fprintf(out, "  %s: %v\n", name, settings[key].def(cfg))
	}
}

// parseValue converts a command-line value to the key's type.
func parseValue(key, value string) (any, error) {
	s, ok := settings[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'klaus config set --help' to see valid keys", key)
	}
	switch s.kind {
	case kindBool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		return n, nil
	case kindLevel:
		level := strings.ToLower(value)
		if !slices.Contains(appconfig.ValidLogLevels(), level) {
			return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(appconfig.ValidLogLevels(), ", "))
		}
		return level, nil
	}
	return value, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value, err := parseValue(key, args[1])
	if err != nil {
		return err
	}

	// Validate the resulting configuration before anything is written.
	previous := viper.Get(key)
	viper.Set(key, value)
	_, verr := appconfig.Load()
	viper.Set(key, previous)
	if verr != nil {
		return fmt.Errorf("invalid value for %s: %w", key, verr)
	}

	path, err := appconfig.SaveSetting(key, value)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, value)
	fmt.Fprintf(out, "Config saved to %s\n", path)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'klaus config set' to modify values", configFile)
	}
	if err := os.MkdirAll(appconfig.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize Klaus's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", appconfig.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", appconfig.ConfigFile())
	fmt.Fprintln(out, "  2. $HOME/.config/klaus/config.yaml")
	fmt.Fprintln(out, "  3. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: KLAUS_* (e.g., KLAUS_PLATFORM_TOKEN, KLAUS_WORKFLOW_MAX_DEBUG_ATTEMPTS)")
	return nil
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	defaults := appconfig.Default()
	out := cmd.OutOrStdout()

	values := make(map[string]any)
	if len(args) == 0 {
		for key, s := range settings {
			values[key] = s.def(defaults)
		}
	} else {
		key := args[0]
		s, ok := settings[key]
		if !ok {
			return fmt.Errorf("unknown configuration key: %s\nRun 'klaus config set --help' to see valid keys", key)
		}
		values[key] = s.def(defaults)
	}

	path, err := appconfig.SaveSettings(values)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprintln(out, "Reset all configuration to defaults.")
	} else {
		fmt.Fprintf(out, "Reset %s to default: %v\n", args[0], values[args[0]])
	}
	fmt.Fprintf(out, "Config saved to %s\n", path)
	return nil
}

const defaultConfigFile = `# Klaus Configuration

# Cloud platform API
platform:
  base_url: https://portal-api.platform.quix.io
  # The token is read from KLAUS_PLATFORM_TOKEN; avoid storing it here.
  # Workspace offered first when collecting prerequisites
  default_workspace_id: ""
  timeout_seconds: 30
  max_retries: 5
  # Internal topics hidden from topic selection (glob patterns)
  excluded_topic_patterns:
    - changelog__*
    - source__*
  discovery_cache_ttl_seconds: 60

# AI agents
ai:
  # Claude Code CLI command name, or an explicit path in claude_cli_path
  claude_command: claude
  claude_cli_path: ""
  skip_permissions: true
  # Model for the Claude Code CLI; empty uses the CLI default
  model: ""
  # Model for schema analysis, log classification and template matching
  api_model: claude-3-5-haiku-latest
  max_retries: 3
  generation_timeout_minutes: 15

# Workflow behaviour
workflow:
  # Automatic fix attempts before handing control back
  max_debug_attempts: 10
  schema_feedback_rounds: 5
  sandbox_run_timeout_seconds: 60
  max_app_name_length: 50
  working_dir: working_files

# Deployment resources and status polling
deployment:
  poll_interval_seconds: 10
  max_polls: 60
  cpu_millicores: 200
  memory_mb: 500
  replicas: 1

# Approved artifacts (schemas, generated code)
cache:
  dir: cache

# Connector template library
library:
  dir: library

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  dir: .klaus/logs

# OpenTelemetry spans for workflow runs
telemetry:
  enabled: false
  trace_file: .klaus/logs/trace.json
`
