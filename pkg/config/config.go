package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds derived runtime values that other packages may query
// at runtime (populated during startup by main after merging env+file).
type RuntimeConfig struct {
	BackendKeys map[string]struct{}
	SigningKeys map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetBackendKeys returns a copy of configured backend keys.
func GetBackendKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.BackendKeys == nil {
		return out
	}
	for k := range runtimeCfg.BackendKeys {
		out[k] = struct{}{}
	}
	return out
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables in cfg so downstream components
// never have to re-check for missing values. Explicit settings are left
// alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = "./.database"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Security.RateLimit.RPS == 0 {
		cfg.Security.RateLimit.RPS = 5
	}
	if cfg.Security.RateLimit.Burst == 0 {
		cfg.Security.RateLimit.Burst = 10
	}
	if cfg.Oracle.Mode == "" {
		cfg.Oracle.Mode = "embedded"
	}
	if cfg.Oracle.Socket == "" {
		cfg.Oracle.Socket = "/tmp/cipherfeed-oracled.sock"
	}
	if cfg.Oracle.Workers == 0 {
		cfg.Oracle.Workers = 4
	}
	if cfg.Oracle.Queue == 0 {
		cfg.Oracle.Queue = 1024
	}
	if cfg.Sweeper.Cron == "" {
		cfg.Sweeper.Cron = "*/10 * * * *"
	}
	if cfg.Limits.MaxHandleBytes == 0 {
		cfg.Limits.MaxHandleBytes = 8 * 1024
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits.MaxBodyBytes = 1024 * 1024
	}
	if cfg.Limits.MaxCandidates == 0 {
		cfg.Limits.MaxCandidates = 512
	}
	if cfg.Limits.EventBuffer == 0 {
		cfg.Limits.EventBuffer = 64
	}
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `CIPHERFEED_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CIPHERFEED_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
