// Package config loads optional session defaults from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/HackTestes/MemoryScanner/internal/scan"
)

// Config holds the session defaults applied to every command before
// its own options.
type Config struct {
	// DataTypes lists the default enabled interpretations.
	DataTypes []string `yaml:"data_types"`
	// Jobs is the default worker count for scans.
	Jobs int `yaml:"jobs"`
	// SleepMs is the default freeze cycle interval.
	SleepMs uint64 `yaml:"sleep_ms"`
}

// Default returns the compiled-in defaults: u32, one worker, tight
// freeze loop.
func Default() *Config {
	return &Config{
		DataTypes: []string{"u32"},
		Jobs:      1,
		SleepMs:   0,
	}
}

// Load reads defaults from a YAML file at the specified path. An empty
// path yields the compiled-in defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1, got %d", c.Jobs)
	}
	if len(c.DataTypes) == 0 {
		return fmt.Errorf("data_types must not be empty")
	}
	if _, err := c.Kinds(); err != nil {
		return err
	}
	return nil
}

// Kinds resolves the configured type names.
func (c *Config) Kinds() ([]scan.Kind, error) {
	kinds := make([]scan.Kind, 0, len(c.DataTypes))
	for _, name := range c.DataTypes {
		k, err := scan.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid data type in config: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
