package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("COTERIE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("COTERIE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	envStr("COTERIE_SQLITE_PATH", &c.Storage.SQLitePath)
	envStr("COTERIE_RUNTIME_ENDPOINT", &c.Runtime.Endpoint)
	envStr("COTERIE_RUNTIME_TOKEN", &c.Runtime.Token)
	envStr("COTERIE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}

// expandPaths resolves leading ~/ in file paths.
func (c *Config) expandPaths() {
	c.Storage.SQLitePath = expandHome(c.Storage.SQLitePath)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// DefaultPath resolves the config file location: --config flag value,
// $COTERIE_CONFIG, or ~/.coterie/config.json5.
func DefaultPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("COTERIE_CONFIG"); v != "" {
		return v
	}
	return expandHome("~/.coterie/config.json5")
}
