package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/agent/internal/daemon"
	"github.com/nexus-relay/nexus/agent/internal/ipc"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Try IPC first for live status.
	if status, err := queryIPCStatus(); err == nil {
		connStatus := "disconnected"
		if status.HubConnected {
			connStatus = "connected"
		} else if status.Reconnecting {
			connStatus = "reconnecting"
		}

		_, _ = fmt.Fprintf(os.Stdout, "Status:   running\n")
		_, _ = fmt.Fprintf(os.Stdout, "Agent:    %s\n", status.DisplayName)
		_, _ = fmt.Fprintf(os.Stdout, "Hub:      %s (%s)\n", status.HubURL, connStatus)
		_, _ = fmt.Fprintf(os.Stdout, "Uptime:   %s\n", status.Uptime)
		_, _ = fmt.Fprintf(os.Stdout, "Sessions: %d\n", status.Sessions)
		return nil
	}

	// Fall back to PID + config.
	pid, _ := daemon.ReadPID()

	if pid == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "Status:  stopped (no PID file)")
		return nil
	}

	if !daemon.IsRunning(pid) {
		_, _ = fmt.Fprintf(os.Stdout, "Status:  stopped (stale PID %d)\n", pid)
		return nil
	}

	_, _ = fmt.Fprintf(os.Stdout, "Status:  running\n")
	_, _ = fmt.Fprintf(os.Stdout, "PID:     %d\n", pid)
	_, _ = fmt.Fprintf(os.Stdout, "Logs:    %s\n", daemon.LogPath())

	// Try to show config info.
	configPath := resolveConfigPath(cmd, nil, "")
	cfg, err := config.Load(configPath)
	if err == nil {
		_, _ = fmt.Fprintf(os.Stdout, "Config:  %s\n", configPath)
		_, _ = fmt.Fprintf(os.Stdout, "Hub:     %s\n", cfg.HubURL)
		_, _ = fmt.Fprintf(os.Stdout, "Name:    %s\n", cfg.DisplayName)
	}

	return nil
}

func queryIPCStatus() (*ipc.StatusResult, error) {
	client, err := ipc.Dial(daemon.SocketPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	resp, err := client.Call("status", nil)
	if err != nil {
		return nil, err
	}

	var status ipc.StatusResult
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
