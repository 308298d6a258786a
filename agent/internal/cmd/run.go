package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/agent/internal/daemon"
	"github.com/nexus-relay/nexus/agent/internal/eventbus"
	"github.com/nexus-relay/nexus/agent/internal/ipc"
	"github.com/nexus-relay/nexus/agent/internal/runtime"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Run the agent in the foreground (default when no subcommand is given and stdin is not a terminal)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath := resolveConfigPath(cmd, args, "")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error: %w", err)
	}

	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	bus := eventbus.New()

	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{Level: logLevel}
	if cfg.LogFormat == "text" {
		baseHandler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		baseHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(eventbus.NewSlogHandler(baseHandler, bus))

	rt := runtime.New(cfg, logger, bus)

	socketPath := daemon.SocketPath()
	ipcServer := ipc.NewServer(socketPath, rt, bus, logger)
	if err := ipcServer.Start(); err != nil {
		logger.Warn("IPC server failed to start", "error", err)
	} else {
		defer func() { _ = ipcServer.Close() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("nexus agent starting", "version", version, "config", configPath)

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("agent error", "error", err)
		os.Exit(1)
	}

	logger.Info("agent stopped")
	bus.Close()
	return nil
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. ~/.nexus-agent/config.json (if it exists)
// 4. defaultPath (possibly "", meaning env-only configuration)
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if p := defaultConfigPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return defaultPath
}

func defaultConfigPath() string {
	return filepath.Join(daemon.DefaultDir(), "config.json")
}
