// Package config handles agent configuration loading and validation. The
// agent has exactly one identity and one PTY-spawning policy, so this is
// far narrower than a multi-profile runtime config: env vars are primary,
// with an optional on-disk JSON override for local development.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration is a JSON-friendly time.Duration (accepts strings like "30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Config is the agent's resolved configuration.
type Config struct {
	HubURL      string `json:"hub_url"`
	Token       string `json:"token"`
	DisplayName string `json:"display_name"`

	AutoRestartShell bool   `json:"auto_restart_shell"`
	RunAsUser        string `json:"run_as_user,omitempty"`
	Shell            string `json:"shell,omitempty"`

	ReconnectMinDelay Duration `json:"reconnect_min_delay"`
	ReconnectMaxDelay Duration `json:"reconnect_max_delay"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Load builds the agent configuration from environment variables (the
// primary source) and then, if path names a readable file, applies its
// contents as an override — matching the hub's own config.Load contract.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config override %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config override %s: %w", path, err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.AutoRestartShell = true
	cfg.ReconnectMinDelay = Duration{1 * time.Second}
	cfg.ReconnectMaxDelay = Duration{30 * time.Second}
	cfg.HeartbeatInterval = Duration{5 * time.Second}
	cfg.LogLevel = "info"
	cfg.LogFormat = "json"

	hostname, err := os.Hostname()
	if err == nil {
		cfg.DisplayName = hostname
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NEXUS_HUB_URL"); v != "" {
		cfg.HubURL = v
	}
	if v := os.Getenv("WORKER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("WORKER_NAME"); v != "" {
		cfg.DisplayName = v
	}
	if v := os.Getenv("AUTO_RESTART_SHELL"); v != "" {
		cfg.AutoRestartShell = v == "1" || v == "true"
	}
	if v := os.Getenv("RUN_AS_USER"); v != "" {
		cfg.RunAsUser = v
	}
	if v := os.Getenv("SHELL"); v != "" {
		cfg.Shell = v
	}
	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AGENT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("AGENT_RECONNECT_MIN_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectMinDelay = Duration{time.Duration(ms) * time.Millisecond}
		}
	}
	if v := os.Getenv("AGENT_RECONNECT_MAX_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectMaxDelay = Duration{time.Duration(ms) * time.Millisecond}
		}
	}
}

func validate(cfg *Config) error {
	if cfg.HubURL == "" {
		return fmt.Errorf("NEXUS_HUB_URL is required")
	}
	if cfg.Token == "" {
		return fmt.Errorf("WORKER_TOKEN is required")
	}
	if cfg.DisplayName == "" {
		return fmt.Errorf("display name is required (set WORKER_NAME or ensure the host has a resolvable hostname)")
	}
	if cfg.ReconnectMaxDelay.Duration < cfg.ReconnectMinDelay.Duration {
		return fmt.Errorf("reconnect_max_delay must be >= reconnect_min_delay")
	}
	return nil
}
