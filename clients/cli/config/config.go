package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Config is the client-side configuration persisted at
// $HOME/.cipherfeedctl.yaml. Keys are secrets; the file is written 0600.
type Config struct {
	Host          string `yaml:"host" json:"host"`
	BackendKey    string `yaml:"backend_key" json:"backend_key"`
	FrontendKey   string `yaml:"frontend_key" json:"frontend_key"`
	Listener      string `yaml:"listener" json:"listener"`
	OracledSocket string `yaml:"oracled_socket" json:"oracled_socket"`
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ValidateAPIKey applies the same shape rules the server enforces on
// configured keys: non-empty, no whitespace, long enough not to be a typo.
func ValidateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if strings.ContainsAny(key, " \t\n") {
		return fmt.Errorf("API key must not contain whitespace")
	}
	if len(key) < 8 {
		return fmt.Errorf("API key must be at least 8 characters, got %d", len(key))
	}
	return nil
}

func (c *Config) IsComplete() bool {
	return c.Host != "" && (c.FrontendKey != "" || c.BackendKey != "")
}

func (c *Config) MissingFields() []string {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.FrontendKey == "" && c.BackendKey == "" {
		missing = append(missing, "frontend_key or backend_key")
	}
	return missing
}
