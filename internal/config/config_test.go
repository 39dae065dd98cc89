package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Workflow limits
	if cfg.Workflow.MaxDebugAttempts != 10 {
		t.Errorf("Workflow.MaxDebugAttempts = %d, want 10", cfg.Workflow.MaxDebugAttempts)
	}
	if cfg.Workflow.SchemaFeedbackRounds != 5 {
		t.Errorf("Workflow.SchemaFeedbackRounds = %d, want 5", cfg.Workflow.SchemaFeedbackRounds)
	}
	if cfg.Workflow.SandboxRunTimeoutSeconds != 60 {
		t.Errorf("Workflow.SandboxRunTimeoutSeconds = %d, want 60", cfg.Workflow.SandboxRunTimeoutSeconds)
	}
	if cfg.Workflow.MaxAppNameLength != 50 {
		t.Errorf("Workflow.MaxAppNameLength = %d, want 50", cfg.Workflow.MaxAppNameLength)
	}

	// Retry budgets
	if cfg.AI.MaxRetries != 3 {
		t.Errorf("AI.MaxRetries = %d, want 3", cfg.AI.MaxRetries)
	}
	if cfg.Platform.MaxRetries != 5 {
		t.Errorf("Platform.MaxRetries = %d, want 5", cfg.Platform.MaxRetries)
	}

	// Cache and logging
	if cfg.Cache.Dir != "cache" {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, "cache")
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should be false by default")
	}

	if len(cfg.Platform.ExcludedTopicPatterns) != 2 {
		t.Errorf("ExcludedTopicPatterns = %v, want 2 patterns", cfg.Platform.ExcludedTopicPatterns)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.Workflow.SandboxRunTimeout(); got != 60*time.Second {
		t.Errorf("SandboxRunTimeout() = %v", got)
	}
	if got := cfg.Deployment.PollInterval(); got != 10*time.Second {
		t.Errorf("PollInterval() = %v", got)
	}
	if got := cfg.AI.GenerationTimeout(); got != 15*time.Minute {
		t.Errorf("GenerationTimeout() = %v", got)
	}
	if got := cfg.Platform.RequestTimeout(); got != 30*time.Second {
		t.Errorf("RequestTimeout() = %v", got)
	}
	if got := cfg.Platform.DiscoveryCacheTTL(); got != time.Minute {
		t.Errorf("DiscoveryCacheTTL() = %v", got)
	}
}

func TestClaudeExecutable(t *testing.T) {
	tests := []struct {
		name    string
		command string
		path    string
		want    string
	}{
		{"command only", "claude", "", "claude"},
		{"explicit path wins", "claude", "/opt/bin/claude", "/opt/bin/claude"},
		{"empty falls back", "", "", "claude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := AIConfig{ClaudeCommand: tt.command, ClaudeCLIPath: tt.path}
			if got := c.ClaudeExecutable(); got != tt.want {
				t.Errorf("ClaudeExecutable() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/klaus" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/klaus")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "klaus")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/klaus/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/cache"); got != filepath.Join(home, "cache") {
		t.Errorf("ExpandHome(~/cache) = %q", got)
	}
	if got := ExpandHome("relative/path"); got != "relative/path" {
		t.Errorf("ExpandHome(relative) = %q", got)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Workflow.MaxDebugAttempts != 10 {
		t.Errorf("Get().Workflow.MaxDebugAttempts = %d, want 10", cfg.Workflow.MaxDebugAttempts)
	}
	if len(cfg.Platform.ExcludedTopicPatterns) != 2 {
		t.Errorf("Get().Platform.ExcludedTopicPatterns = %v", cfg.Platform.ExcludedTopicPatterns)
	}
}

func TestLoad_RejectsInvalidOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("workflow.max_debug_attempts", 0)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject max_debug_attempts=0")
	}

	// Get falls back to defaults on invalid input.
	if cfg := Get(); cfg.Workflow.MaxDebugAttempts != 10 {
		t.Errorf("Get() fallback MaxDebugAttempts = %d", cfg.Workflow.MaxDebugAttempts)
	}
}
