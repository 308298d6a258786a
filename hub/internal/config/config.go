// Package config loads hub configuration from environment variables, with an
// optional on-disk JSON file for local development overrides.
package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Duration is a time.Duration that marshals to/from JSON as a Go duration
// string (e.g. "30s", "2h") instead of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig controls the HTTP/WS listener.
type ServerConfig struct {
	Addr         string `json:"addr"`
	ClientOrigin string `json:"client_origin"`
	TLSCert      string `json:"tls_cert,omitempty"`
	TLSKey       string `json:"tls_key,omitempty"`
}

// AuthConfig controls admin credential and bearer-token handling.
type AuthConfig struct {
	JWTSecret       string   `json:"jwt_secret"`
	AdminPassword   string   `json:"admin_password,omitempty"`
	SetupToken      string   `json:"setup_token,omitempty"`
	SessionLifetime Duration `json:"session_lifetime"`
}

// AgentLinkConfig controls the agent-facing WebSocket link.
type AgentLinkConfig struct {
	Token                  string   `json:"token,omitempty"`
	AllowUnauthenticated   bool     `json:"allow_unauthenticated"`
	HealthTimeout          Duration `json:"health_timeout"`
	HeartbeatInterval      Duration `json:"heartbeat_interval"`
}

// StorageConfig controls the embedded SQLite store.
type StorageConfig struct {
	DSN             string   `json:"dsn"`
	OutputTailChars int      `json:"output_tail_chars"`
	AuditRetention  Duration `json:"audit_retention"`
}

// LoggingConfig controls structured logging output.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

// RateLimitConfig controls per-identity HTTP rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// Config is the fully resolved hub configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Agents    AgentLinkConfig `json:"agents"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// Load builds the configuration from environment variables (primary source,
// per the deployment contract) and then, if path names a readable file,
// applies its contents as an override on top — a convenience for local
// development so engineers don't need a shell full of exports to iterate.
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
	cfg.Server.Addr = ":8080"
	cfg.Server.ClientOrigin = "*"

	cfg.Auth.SessionLifetime = Duration{12 * time.Hour}

	cfg.Agents.HealthTimeout = Duration{15 * time.Second}
	cfg.Agents.HeartbeatInterval = Duration{5 * time.Second}

	cfg.Storage.DSN = "nexus.db"
	cfg.Storage.OutputTailChars = 50_000
	cfg.Storage.AuditRetention = Duration{30 * 24 * time.Hour}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.RateLimit.RequestsPerSecond = 10
	cfg.RateLimit.Burst = 20
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("CLIENT_ORIGIN"); v != "" {
		cfg.Server.ClientOrigin = v
	}
	if v := os.Getenv("NEXUS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("NEXUS_SETUP_TOKEN"); v != "" {
		cfg.Auth.SetupToken = v
	}
	if v := os.Getenv("WORKER_TOKEN"); v != "" {
		cfg.Agents.Token = v
	}
	if v := os.Getenv("ALLOW_UNAUTHENTICATED_WORKERS"); v != "" {
		cfg.Agents.AllowUnauthenticated = v == "1" || v == "true"
	}
	if v := os.Getenv("WORKER_HEALTH_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Agents.HealthTimeout = Duration{time.Duration(ms) * time.Millisecond}
		}
	}
	if v := os.Getenv("WORKER_HEARTBEAT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Agents.HeartbeatInterval = Duration{time.Duration(ms) * time.Millisecond}
		}
	}
	if v := os.Getenv("NEXUS_DB_PATH"); v != "" {
		cfg.Storage.DSN = v
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("NEXUS_JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("NEXUS_JWT_SECRET must be at least 32 characters")
	}
	if !cfg.Agents.AllowUnauthenticated && cfg.Agents.Token == "" {
		return fmt.Errorf("WORKER_TOKEN is required unless ALLOW_UNAUTHENTICATED_WORKERS is set")
	}
	return nil
}

// GenerateRandomSecret returns a hex-encoded random secret suitable for use
// as a JWT signing key, for first-run bootstrapping.
func GenerateRandomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
