package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestSaveSettings_KeepsExistingKeys(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := SaveSetting("workflow.max_debug_attempts", 4); err != nil {
		t.Fatalf("SaveSetting() error = %v", err)
	}
	path, err := SaveSetting("deployment.replicas", 2)
	if err != nil {
		t.Fatalf("SaveSetting() error = %v", err)
	}
	if path != ConfigFile() {
		t.Errorf("path = %q, want %q", path, ConfigFile())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	content := string(data)
	for _, want := range []string{"max_debug_attempts: 4", "replicas: 2"} {
		if !strings.Contains(content, want) {
			t.Errorf("config file missing %q:\n%s", want, content)
		}
	}
	if got := viper.GetInt("deployment.replicas"); got != 2 {
		t.Errorf("viper deployment.replicas = %d, want 2", got)
	}
}

func TestSaveSettings_DoesNotPersistEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KLAUS_PLATFORM_TOKEN", "secret-token")
	viper.SetEnvPrefix("KLAUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	SetDefaults()

	path, err := SaveSetting("platform.default_workspace_id", "ws-1")
	if err != nil {
		t.Fatalf("SaveSetting() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Errorf("config file contains the token:\n%s", data)
	}
	if !strings.Contains(string(data), "default_workspace_id: ws-1") {
		t.Errorf("config file missing workspace:\n%s", data)
	}
}

func TestActiveFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if got := ActiveFile(); got != ConfigFile() {
		t.Errorf("ActiveFile() = %q, want %q", got, ConfigFile())
	}

	custom := filepath.Join(t.TempDir(), "klaus.yaml")
	if err := os.WriteFile(custom, []byte("workflow:\n  working_dir: apps\n"), 0644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(custom)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	if got := ActiveFile(); got != custom {
		t.Errorf("ActiveFile() = %q, want %q", got, custom)
	}
}
