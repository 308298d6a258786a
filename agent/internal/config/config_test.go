package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDuration_UnmarshalJSON_String(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"30s"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 30*time.Second {
		t.Errorf("got %v, want 30s", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Minutes(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"5m"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 5*time.Minute {
		t.Errorf("got %v, want 5m", d.Duration)
	}
}

func TestDuration_UnmarshalJSON_Number(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`1000`), &d); err == nil {
		t.Error("expected error unmarshaling bare number, Duration requires a string")
	}
}

func TestDuration_UnmarshalJSON_Invalid(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Error("expected error for invalid duration string")
	}
}

func TestDuration_UnmarshalJSON_InvalidType(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for non-string JSON value")
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration{2 * time.Second}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2s"` {
		t.Errorf("got %s, want \"2s\"", b)
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	orig := Duration{90 * time.Second}
	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}
	var got Duration
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Duration != orig.Duration {
		t.Errorf("got %v, want %v", got.Duration, orig.Duration)
	}
}

func clearAgentEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NEXUS_HUB_URL", "WORKER_TOKEN", "WORKER_NAME",
		"AUTO_RESTART_SHELL", "RUN_AS_USER", "SHELL",
		"AGENT_LOG_LEVEL", "AGENT_LOG_FORMAT",
		"AGENT_RECONNECT_MIN_MS", "AGENT_RECONNECT_MAX_MS",
	} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			t.Cleanup(func(k, v string) func() {
				return func() { os.Setenv(k, v) }
			}(k, old))
		}
	}
}

func TestLoad_ValidConfigFromEnv(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HubURL != "wss://hub.example.com/ws/agent" {
		t.Errorf("HubURL = %q", cfg.HubURL)
	}
	if cfg.Token != "secret-token" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.DisplayName != "build-box-1" {
		t.Errorf("DisplayName = %q", cfg.DisplayName)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.AutoRestartShell {
		t.Error("expected AutoRestartShell default true")
	}
	if cfg.ReconnectMinDelay.Duration != 1*time.Second {
		t.Errorf("ReconnectMinDelay = %v, want 1s", cfg.ReconnectMinDelay.Duration)
	}
	if cfg.ReconnectMaxDelay.Duration != 30*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 30s", cfg.ReconnectMaxDelay.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoad_DisplayNameFallsBackToHostname(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DisplayName == "" {
		t.Error("expected DisplayName to fall back to hostname when WORKER_NAME unset")
	}
}

func TestLoad_MissingHubURL(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	if _, err := Load(""); err == nil {
		t.Error("expected error when NEXUS_HUB_URL is missing")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_NAME", "build-box-1")

	if _, err := Load(""); err == nil {
		t.Error("expected error when WORKER_TOKEN is missing")
	}
}

func TestLoad_AutoRestartShellDisabled(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")
	os.Setenv("AUTO_RESTART_SHELL", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AutoRestartShell {
		t.Error("expected AutoRestartShell=false")
	}
}

func TestLoad_InvalidReconnectBounds(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")
	os.Setenv("AGENT_RECONNECT_MIN_MS", "30000")
	os.Setenv("AGENT_RECONNECT_MAX_MS", "1000")

	if _, err := Load(""); err == nil {
		t.Error("expected error when reconnect_max_delay < reconnect_min_delay")
	}
}

func TestLoad_OverrideFileAppliesOnTopOfEnv(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	path := writeTemp(t, `{"shell":"/usr/local/bin/zsh"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Shell != "/usr/local/bin/zsh" {
		t.Errorf("Shell = %q, want override value", cfg.Shell)
	}
	if cfg.HubURL != "wss://hub.example.com/ws/agent" {
		t.Errorf("HubURL = %q, expected env value preserved", cfg.HubURL)
	}
}

func TestLoad_MissingOverrideFileIsNotAnError(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json")); err != nil {
		t.Fatalf("unexpected error for missing override file: %v", err)
	}
}

func TestLoad_InvalidOverrideJSON(t *testing.T) {
	clearAgentEnv(t)
	os.Setenv("NEXUS_HUB_URL", "wss://hub.example.com/ws/agent")
	os.Setenv("WORKER_TOKEN", "secret-token")
	os.Setenv("WORKER_NAME", "build-box-1")

	path := writeTemp(t, `{not valid json`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed override JSON")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent-config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
