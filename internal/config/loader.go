package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fedclient/pkg/logging"
)

const (
	userConfigDir  = ".config/fedclient"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the user's config directory. It panics
// only when the home directory cannot be determined at all, which means the
// environment is too broken to run in anyway.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}
	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from the given directory on top of the
// defaults. A missing file yields the defaults; a malformed one is an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("Config", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Warn("Config", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config in %s: %w", configFilePath, err)
	}
	logging.Debug("Config", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// Validate rejects values the clients could not work with.
func (c Config) Validate() error {
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Timeout)
	}
	return nil
}
