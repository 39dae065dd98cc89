package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ActiveFile returns the config file in use, or the default location when
// none was read.
func ActiveFile() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return ConfigFile()
}

// SaveSettings writes values into the active config file and applies them
// to the running configuration. Only the keys already in the file and the
// given keys are written, so values that came from the environment (the
// platform token in particular) never end up on disk.
func SaveSettings(values map[string]any) (string, error) {
	path := ActiveFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	for key, value := range values {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	for key, value := range values {
		viper.Set(key, value)
	}
	return path, nil
}

// SaveSetting is SaveSettings for a single key.
func SaveSetting(key string, value any) (string, error) {
	return SaveSettings(map[string]any{key: value})
}
