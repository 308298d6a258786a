// Package session maintains the agent's map of session_id → PTY process.
package session

import (
	"log/slog"
	"sync"

	"github.com/nexus-relay/nexus/agent/internal/ptyproc"
)

// OutputHandler is called with raw PTY output bytes for a session.
type OutputHandler func(sessionID string, data []byte)

// ExitHandler is called when a session's shell process exits (not killed).
type ExitHandler func(sessionID string, exitCode int)

// Manager owns every PTY process the agent has spawned, keyed by session ID.
type Manager struct {
	policy      ptyproc.SpawnPolicy
	autoRestart bool
	onOutput    OutputHandler
	onExit      ExitHandler
	logger      *slog.Logger

	mu    sync.Mutex
	procs map[string]*ptyproc.Proc
}

// NewManager creates a session registry.
func NewManager(policy ptyproc.SpawnPolicy, autoRestart bool, onOutput OutputHandler, onExit ExitHandler, logger *slog.Logger) *Manager {
	return &Manager{
		policy:      policy,
		autoRestart: autoRestart,
		onOutput:    onOutput,
		onExit:      onExit,
		logger:      logger.With("component", "session-manager"),
		procs:       make(map[string]*ptyproc.Proc),
	}
}

// Execute delivers input bytes to a session's PTY, spawning it lazily on
// first use.
func (m *Manager) Execute(sessionID string, data []byte) error {
	return m.get(sessionID).Write(data, 0, 0)
}

// Resize applies new PTY dimensions, spawning the PTY lazily on first use.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	return m.get(sessionID).Resize(cols, rows)
}

// Kill terminates a session's PTY permanently and removes it from the
// registry. It will never respawn.
func (m *Manager) Kill(sessionID string) {
	m.mu.Lock()
	p, ok := m.procs[sessionID]
	if ok {
		delete(m.procs, sessionID)
	}
	m.mu.Unlock()

	if ok {
		p.Kill()
		m.logger.Info("session killed", "session_id", sessionID)
	}
}

// KillAll terminates every running PTY, used on agent shutdown.
func (m *Manager) KillAll() {
	m.mu.Lock()
	procs := make([]*ptyproc.Proc, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.procs = make(map[string]*ptyproc.Proc)
	m.mu.Unlock()

	for _, p := range procs {
		p.Kill()
	}
}

func (m *Manager) get(sessionID string) *ptyproc.Proc {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.procs[sessionID]; ok {
		return p
	}

	p := ptyproc.New(sessionID, m.policy, m.autoRestart, m.onOutput, func(sid string, state ptyproc.State, exitCode int) {
		m.onExit(sid, exitCode)
	})
	m.procs[sessionID] = p
	m.logger.Info("session registered", "session_id", sessionID)
	return p
}

// State returns the lifecycle state of a session's PTY, or StateNone if the
// agent has never seen this session ID.
func (m *Manager) State(sessionID string) ptyproc.State {
	m.mu.Lock()
	p, ok := m.procs[sessionID]
	m.mu.Unlock()
	if !ok {
		return ptyproc.StateNone
	}
	return p.State()
}

// Count returns the number of sessions the agent is currently tracking.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}
