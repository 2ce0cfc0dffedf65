package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all lockstep server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	WorkspacesDir  string `json:"workspaces_dir"`
	LogLevel       string `json:"log_level"`
	ExecTimeoutMS  int64  `json:"exec_timeout_ms"`
	MaxOutputBytes int64  `json:"max_output_bytes"`
}

func defaultConfig() Config {
	return Config{
		WorkspacesDir: filepath.Join(lockstepDir(), "workspaces"),
		LogLevel:      "info",
	}
}

func lockstepDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lockstep"
	}
	return filepath.Join(home, ".lockstep")
}

func settingsPath() string {
	return filepath.Join(lockstepDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LOCKSTEP_WORKSPACES_DIR"); v != "" {
		cfg.WorkspacesDir = v
	}
	if v := os.Getenv("LOCKSTEP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOCKSTEP_EXEC_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ExecTimeoutMS = n
		}
	}
	if v := os.Getenv("LOCKSTEP_MAX_OUTPUT_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxOutputBytes = n
		}
	}

	return cfg
}
