package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/pkg/cli"
)

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 30 * time.Second
	defaultHeartbeat    = 5 * time.Second
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			systemd, _ := cmd.Flags().GetBool("systemd")
			return runInit(cli.DefaultPrompter(), output, systemd)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ~/.nexus-agent/config.json)")
	cmd.Flags().Bool("systemd", false, "also generate a systemd unit file")
	return cmd
}

func runInit(p *cli.Prompter, outputPath string, generateSystemd bool) error {
	_, _ = fmt.Fprintln(p.Out)
	_, _ = fmt.Fprintln(p.Out, "  Nexus Agent — Configuration Wizard")
	_, _ = fmt.Fprintln(p.Out, strings.Repeat("─", 42))
	_, _ = fmt.Fprintln(p.Out)

	cfg := &config.Config{}

	_, _ = fmt.Fprintln(p.Out, "Hub Connection")
	cfg.HubURL = p.Ask("  Hub WebSocket URL", "ws://localhost:8080/ws/agent")
	cfg.Token = p.AskPassword("  Registration token")
	_, _ = fmt.Fprintln(p.Out)

	_, _ = fmt.Fprintln(p.Out, "Identity")
	hostname, _ := os.Hostname()
	cfg.DisplayName = p.Ask("  Display name for this host", hostname)
	_, _ = fmt.Fprintln(p.Out)

	_, _ = fmt.Fprintln(p.Out, "Shell")
	cfg.AutoRestartShell = p.Confirm("  Automatically respawn the shell when it exits", true)
	cfg.RunAsUser = p.Ask("  Run sessions as user (leave empty to auto-detect)", "")
	cfg.Shell = p.Ask("  Shell path (leave empty for auto-detect: zsh/bash/sh)", "")
	_, _ = fmt.Fprintln(p.Out)

	_, _ = fmt.Fprintln(p.Out, "Logging")
	cfg.LogLevel = p.Choose("  Log level", []string{"debug", "info", "warn", "error"}, 1)
	cfg.LogFormat = p.Choose("  Log format", []string{"json", "text"}, 0)
	cfg.ReconnectMinDelay = config.Duration{}
	cfg.ReconnectMaxDelay = config.Duration{}
	cfg.HeartbeatInterval = config.Duration{}

	if outputPath == "" {
		outputPath = defaultConfigPath()
	}

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	// renderConfig fills zero Duration fields with the defaults before
	// marshaling, so the file on disk is valid input to config.Load.
	data, err := renderConfig(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(outputPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	_, _ = fmt.Fprintf(p.Out, "\n  Config written to %s\n", outputPath)

	if generateSystemd {
		if err := writeSystemdUnit(p, outputPath); err != nil {
			return err
		}
	}

	_, _ = fmt.Fprintln(p.Out)
	startNow := p.Confirm("  Start the agent now", true)
	if startNow {
		return startDaemon(outputPath)
	}

	_, _ = fmt.Fprintln(p.Out)
	_, _ = fmt.Fprintln(p.Out, "  To start later:")
	_, _ = fmt.Fprintf(p.Out, "    nexus-agent start %s\n\n", outputPath)
	return nil
}

// renderConfig fills in defaults for any zero-value durations before
// marshaling, so a config file written by init is immediately valid input
// to config.Load without relying on env vars.
func renderConfig(cfg *config.Config) ([]byte, error) {
	if cfg.ReconnectMinDelay.Duration == 0 {
		cfg.ReconnectMinDelay = config.Duration{Duration: defaultReconnectMin}
	}
	if cfg.ReconnectMaxDelay.Duration == 0 {
		cfg.ReconnectMaxDelay = config.Duration{Duration: defaultReconnectMax}
	}
	if cfg.HeartbeatInterval.Duration == 0 {
		cfg.HeartbeatInterval = config.Duration{Duration: defaultHeartbeat}
	}
	return json.MarshalIndent(cfg, "", "  ")
}

func writeSystemdUnit(p *cli.Prompter, configPath string) error {
	unitPath := p.Ask("  Systemd unit file path", "/etc/systemd/system/nexus-agent.service")

	absConfig := configPath
	if !strings.HasPrefix(configPath, "/") {
		if wd, err := os.Getwd(); err == nil {
			absConfig = wd + "/" + configPath
		}
	}

	unit := fmt.Sprintf(`[Unit]
Description=Nexus Agent
After=network.target

[Service]
Type=simple
ExecStart=/usr/local/bin/nexus-agent run %s
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`, absConfig)

	if err := os.WriteFile(unitPath, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write systemd unit: %w", err)
	}

	_, _ = fmt.Fprintf(p.Out, "  Systemd unit written to %s\n", unitPath)
	_, _ = fmt.Fprintln(p.Out, "  Enable with: sudo systemctl enable --now nexus-agent")
	return nil
}
