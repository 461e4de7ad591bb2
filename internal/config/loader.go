package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mcpgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpgate"
	configFileName = "mcpgate.yaml"
)

// DefaultConfigPath returns the default config file location
// (~/.config/mcpgate/mcpgate.yaml).
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig loads and validates the configuration document at path. An
// empty path selects the default location; a missing file at the default
// location yields the built-in defaults, while a missing explicit path is
// an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			logging.Info("ConfigLoader", "No config file found at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	// Strict decoding surfaces unknown fields as configuration errors
	// rather than silently ignoring operator typos.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config from %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d backends)", path, len(cfg.Backends))
	return cfg, nil
}
