/*
Package config loads server configuration from an optional YAML file with
environment-variable overrides.

PRECEDENCE (lowest to highest):
 1. Built-in defaults
 2. YAML file (if a path is given)
 3. Environment variables

ENVIRONMENT VARIABLES:

	SUBSIDY_PORT              HTTP port
	SUBSIDY_DB                SQLite database path (":memory:" works)
	SUBSIDY_CORS_ORIGINS      Comma-separated allowed origins
	SUBSIDY_DEV_TOOLS         "true" mounts the seed/reset endpoints
	SUBSIDY_LENIENT_DECISIONS "true" accepts approve/reject from any state

The lenient-decisions switch exists for parity with legacy deployments that
never enforced the review step; leave it off for new installs.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server binary needs to start.
type Config struct {
	Port             int      `yaml:"port"`
	DBPath           string   `yaml:"db_path"`
	CORSOrigins      []string `yaml:"cors_origins"`
	DevTools         bool     `yaml:"dev_tools"`
	LenientDecisions bool     `yaml:"lenient_decisions"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     8080,
		DBPath:   "subsidy.db",
		DevTools: true,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.DBPath == "" {
		return cfg, fmt.Errorf("db_path must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SUBSIDY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SUBSIDY_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SUBSIDY_CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.CORSOrigins = origins
	}
	if v := os.Getenv("SUBSIDY_DEV_TOOLS"); v != "" {
		cfg.DevTools = v == "true" || v == "1"
	}
	if v := os.Getenv("SUBSIDY_LENIENT_DECISIONS"); v != "" {
		cfg.LenientDecisions = v == "true" || v == "1"
	}
}
