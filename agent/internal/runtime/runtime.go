// Package runtime is the main orchestrator that ties together the hub
// client, the PTY session registry, and the event bus.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/agent/internal/eventbus"
	"github.com/nexus-relay/nexus/agent/internal/hub"
	"github.com/nexus-relay/nexus/agent/internal/ipc"
	"github.com/nexus-relay/nexus/agent/internal/ptyproc"
	"github.com/nexus-relay/nexus/agent/internal/session"
	"github.com/nexus-relay/nexus/pkg/protocol"
)

var version = "dev"

// Runtime is the main agent process.
type Runtime struct {
	cfg       *config.Config
	sessions  *session.Manager
	hubClient *hub.Client
	logger    *slog.Logger
	bus       *eventbus.Bus
	startedAt time.Time

	mu           sync.Mutex
	hubConnected bool
	reconnecting bool
}

// New creates a new agent runtime from configuration. If bus is nil, a
// fresh event bus is created.
func New(cfg *config.Config, logger *slog.Logger, bus *eventbus.Bus) *Runtime {
	if bus == nil {
		bus = eventbus.New()
	}

	rt := &Runtime{
		cfg:       cfg,
		logger:    logger.With("component", "runtime", "agent", cfg.DisplayName),
		bus:       bus,
		startedAt: time.Now(),
	}

	policy := ptyproc.SpawnPolicy{RunAsUser: cfg.RunAsUser, Shell: cfg.Shell}
	rt.sessions = session.NewManager(policy, cfg.AutoRestartShell, rt.handleSessionOutput, rt.handleSessionExit, logger)
	rt.hubClient = hub.NewClient(cfg, rt.handleHubMessage, logger)

	return rt
}

// Bus returns the runtime's event bus.
func (r *Runtime) Bus() *eventbus.Bus {
	return r.bus
}

// Status returns the current runtime status (implements ipc.StateProvider).
func (r *Runtime) Status() ipc.StatusResult {
	r.mu.Lock()
	connected := r.hubConnected
	reconnecting := r.reconnecting
	r.mu.Unlock()

	return ipc.StatusResult{
		DisplayName:  r.cfg.DisplayName,
		HubURL:       r.cfg.HubURL,
		HubConnected: connected,
		Reconnecting: reconnecting,
		StartedAt:    r.startedAt,
		Uptime:       time.Since(r.startedAt).Truncate(time.Second).String(),
		Sessions:     r.sessions.Count(),
		Version:      version,
	}
}

// Sessions implements ipc.StateProvider. It returns no entries: per-session
// state is not listed over IPC. The hub's session store is the source of
// truth for names and viewer state.
func (r *Runtime) Sessions() []ipc.SessionInfo {
	return nil
}

// Run starts the runtime and blocks until the context is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("starting agent", "display_name", r.cfg.DisplayName, "hub_url", r.cfg.HubURL)

	defer func() {
		r.logger.Info("shutting down agent")
		r.sessions.KillAll()
		_ = r.hubClient.Close()
	}()

	return r.hubClient.Run(ctx)
}

// handleHubMessage dispatches a command envelope received from the hub.
func (r *Runtime) handleHubMessage(env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeExecute:
		return r.handleExecute(env)
	case protocol.TypeResize:
		return r.handleResize(env)
	case protocol.TypeKillSession:
		return r.handleKillSession(env)
	case protocol.TypeClientDisconnect:
		return nil
	default:
		r.logger.Warn("unknown message type from hub", "type", env.Type)
		return nil
	}
}

func (r *Runtime) handleExecute(env protocol.Envelope) error {
	var req protocol.ExecuteToAgent
	if !decodePayload(env.Payload, &req) {
		return fmt.Errorf("unmarshal execute payload")
	}
	if err := r.sessions.Execute(req.SessionID, []byte(req.Data)); err != nil {
		r.logger.Warn("execute failed", "session_id", req.SessionID, "error", err)
		return err
	}
	return nil
}

func (r *Runtime) handleResize(env protocol.Envelope) error {
	var req protocol.ResizeToAgent
	if !decodePayload(env.Payload, &req) {
		return fmt.Errorf("unmarshal resize payload")
	}
	if err := r.sessions.Resize(req.SessionID, req.Cols, req.Rows); err != nil {
		r.logger.Warn("resize failed", "session_id", req.SessionID, "error", err)
		return err
	}
	return nil
}

func (r *Runtime) handleKillSession(env protocol.Envelope) error {
	var req protocol.KillSessionToAgent
	if !decodePayload(env.Payload, &req) {
		return fmt.Errorf("unmarshal kill_session payload")
	}
	r.sessions.Kill(req.SessionID)
	r.bus.PublishType(eventbus.SessionKilled, map[string]string{"session_id": req.SessionID})
	return nil
}

// handleSessionOutput is called by the session manager with raw PTY bytes.
func (r *Runtime) handleSessionOutput(sessionID string, data []byte) {
	_ = r.hubClient.Send(protocol.TypeAgentOutput, sessionID, protocol.AgentOutputMsg{
		SessionID: sessionID,
		Data:      string(data),
	})
}

// handleSessionExit is called by the session manager when a shell process
// exits without being explicitly killed.
func (r *Runtime) handleSessionExit(sessionID string, exitCode int) {
	r.bus.PublishType(eventbus.SessionExited, map[string]any{
		"session_id": sessionID,
		"exit_code":  exitCode,
	})
	_ = r.hubClient.Send(protocol.TypeAgentSessionExited, sessionID, protocol.AgentSessionExited{
		SessionID: sessionID,
		ExitCode:  exitCode,
	})
}

func decodePayload(payload any, dst any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}
