package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all amygdala server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath           string   `json:"db_path"`
	LogLevel         string   `json:"log_level"`
	MaxActionsPerRun int      `json:"max_actions_per_run"`
	// EnvTokens is the allow-list of process environment variables
	// reachable from templates via {{env.NAME}}.
	EnvTokens []string `json:"env_tokens"`
	SeedDemo  bool     `json:"seed_demo"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(amygdalaDir(), "amygdala.db"),
		LogLevel: "info",
	}
}

func amygdalaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".amygdala"
	}
	return filepath.Join(home, ".amygdala")
}

func settingsPath() string {
	return filepath.Join(amygdalaDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AMYGDALA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AMYGDALA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AMYGDALA_MAX_ACTIONS_PER_RUN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxActionsPerRun = n
		}
	}
	if v := os.Getenv("AMYGDALA_ENV_TOKENS"); v != "" {
		cfg.EnvTokens = splitList(v)
	}
	if v := os.Getenv("AMYGDALA_SEED_DEMO"); v != "" {
		cfg.SeedDemo = v == "true" || v == "1"
	}

	return cfg
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveEnvTokens reads the allow-listed variables from the process
// environment. Unset variables are omitted so {{env.NAME}} fails loudly
// instead of interpolating an empty string.
func resolveEnvTokens(names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	tokens := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			tokens[name] = v
		}
	}
	return tokens
}
