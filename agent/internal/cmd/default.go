package cmd

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/agent/internal/daemon"
)

// runDefault implements the bare `nexus-agent` (no subcommand) behavior:
//   - daemon running? → print status
//   - no config? → run init wizard
//   - config exists, daemon stopped? → start daemon in background
func runDefault(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return runRun(cmd, args)
	}

	pid, _ := daemon.ReadPID()
	if pid != 0 && daemon.IsRunning(pid) {
		return runStatus(cmd, args)
	}

	configPath := resolveConfigPath(cmd, args, "")
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		initCmd := newInitCmd()
		initCmd.SetContext(cmd.Context())
		return initCmd.RunE(initCmd, nil)
	}

	return startDaemon(configPath)
}

// startDaemon launches the agent as a background daemon and waits for its
// IPC socket to become ready.
func startDaemon(configPath string) error {
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	logFile, err := daemon.OpenLogFile()
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, "run", configPath)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = daemon.DetachSysProcAttr()

	if err := child.Start(); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}

	if err := daemon.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	fmt.Printf("Agent started (PID %d)\n", child.Process.Pid)

	socketPath := daemon.SocketPath()
	if err := waitForSocket(socketPath, 5*time.Second); err != nil {
		fmt.Printf("Warning: could not reach agent IPC socket (%v)\n", err)
		fmt.Printf("The agent is running. View logs with: nexus-agent logs\n")
		return nil
	}

	fmt.Println("Agent is running. View status with: nexus-agent status")
	return nil
}

// waitForSocket polls until the Unix socket accepts connections or the timeout expires.
func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("socket %s not ready after %s", path, timeout)
}
