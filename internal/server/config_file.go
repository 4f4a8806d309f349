package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML config file and expands ${VAR} environment variables.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithDefaults loads config and applies default values. An empty
// path skips the file and starts from defaults.
func LoadConfigWithDefaults(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads the optional file, applies environment overrides and
// defaults, and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadConfigWithDefaults(path)
	if err != nil {
		return nil, err
	}
	cfg.overrideFromEnv()
	sanitized := cfg.sanitized()
	if err := sanitized.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &sanitized, nil
}
