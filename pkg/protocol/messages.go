// Package protocol defines the wire protocol messages exchanged between
// Nexus components (agent ↔ hub ↔ browser client) over WebSocket.
//
// All messages are JSON-encoded and share a common envelope with a "type"
// field that determines the payload structure.
package protocol

import "time"

// Envelope is the top-level wire format for all messages on both the
// agent link and the client link.
type Envelope struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"` // message ID for idempotency
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// --- Message type constants ---

const (
	// Agent → Hub
	TypeAgentRegister         = "register"
	TypeAgentHeartbeat        = "heartbeat"
	TypeAgentOutput           = "output"
	TypeAgentSessionExited    = "session_shell_exited"

	// Hub → Agent
	TypeAgentRegisterAck  = "register_ack"
	TypeExecute           = "execute"
	TypeResize            = "resize"
	TypeKillSession       = "kill_session"
	TypeClientDisconnect  = "client_disconnect"

	// Client → Hub
	TypeClientRegister    = "register"
	TypeCreateSession     = "create_session"
	TypeCloseSession      = "close_session"
	TypeRenameSession     = "rename_session"
	TypeJoinSession       = "join_session"
	TypeLeaveSession      = "leave_session"
	TypeGetSessionList    = "get_session_list"
	TypeGetSessionOutput  = "get_session_output"

	// Hub → Client
	TypeClientRegisterAck = "register_ack"
	TypeAgentList         = "agent_list"
	TypeSessionList       = "session_list"
	TypeSessionClosed     = "session_closed"
	TypeSessionOutput     = "output"
	TypeSessionCreated    = "session_created"
	TypeError             = "error"
)

// --- Agent → Hub ---

// AgentRegister is sent by the agent immediately after connecting. Token
// carries the shared agent credential (§6.2); ApiKey is accepted as an
// alias for forward compatibility with older agent builds but the hub does
// not maintain a per-agent-key issuance table (see DESIGN.md).
type AgentRegister struct {
	DisplayName string `json:"display_name"`
	Hostname    string `json:"hostname"`
	Version     string `json:"version,omitempty"`
	Token       string `json:"token,omitempty"`
	ApiKey      string `json:"apiKey,omitempty"`
}

// AgentHeartbeat is sent periodically by the agent to prove liveness.
type AgentHeartbeat struct {
	ActiveSessions int `json:"active_sessions"`
}

// AgentOutputMsg carries raw PTY output bytes from the agent to the hub.
type AgentOutputMsg struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"` // raw terminal bytes, UTF-8 best-effort
}

// AgentSessionExited reports that the underlying shell process exited.
type AgentSessionExited struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// --- Hub → Agent ---

// AgentRegisterAck is the hub's response to AgentRegister.
type AgentRegisterAck struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agent_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ExecuteToAgent carries keystrokes/input for a session's PTY.
type ExecuteToAgent struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// ResizeToAgent instructs the agent to apply a new PTY size. The size is
// already reconciled (min across attached viewers) by the hub.
type ResizeToAgent struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// KillSessionToAgent is a terminal command: stop the process and do not
// auto-respawn it.
type KillSessionToAgent struct {
	SessionID string `json:"session_id"`
}

// ClientDisconnectToAgent informs the agent that the hub no longer has any
// client attached to a session, for agents that track their own idle state.
type ClientDisconnectToAgent struct {
	SessionID string `json:"session_id"`
}

// --- Client → Hub ---

// ClientRegister authenticates a browser client connection.
type ClientRegister struct {
	Token string `json:"token"`
}

// CreateSession asks the hub to create a new named PTY session on an agent.
type CreateSession struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name,omitempty"`
	Cols    int    `json:"cols"`
	Rows    int    `json:"rows"`
}

// CloseSessionMsg asks the hub to terminate a session permanently.
type CloseSessionMsg struct {
	SessionID string `json:"session_id"`
}

// RenameSession changes a session's display name.
type RenameSession struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// JoinSession attaches the client's viewport to a running session.
type JoinSession struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// LeaveSession detaches the client's viewport from a session without
// closing it.
type LeaveSession struct {
	SessionID string `json:"session_id"`
}

// GetSessionList requests the current session roster.
type GetSessionList struct{}

// GetSessionOutput requests the stored output tail for a session (e.g. on
// reconnect, before live output resumes).
type GetSessionOutput struct {
	SessionID string `json:"session_id"`
}

// ClientExecute carries keystrokes from the browser to a session.
type ClientExecute struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// ClientResize reports the client's own viewport size; the hub reconciles
// this against all other viewers attached to the same session.
type ClientResize struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// --- Hub → Client ---

// ClientRegisterAck is the hub's response to ClientRegister.
type ClientRegisterAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// AgentSummary describes one registered agent for the client roster.
type AgentSummary struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Hostname    string    `json:"hostname"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
}

// AgentListMsg carries the full agent roster.
type AgentListMsg struct {
	Agents []AgentSummary `json:"agents"`
}

// SessionSummary describes one session for the client roster.
type SessionSummary struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	State     string    `json:"state"` // "running", "exited", "killed"
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionListMsg carries the current session roster.
type SessionListMsg struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionCreatedMsg acknowledges CreateSession.
type SessionCreatedMsg struct {
	SessionID string `json:"session_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// SessionClosedMsg notifies clients that a session is gone for good.
type SessionClosedMsg struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// SessionOutputMsg carries output bytes (live or a historical tail reply) to
// a client.
type SessionOutputMsg struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
	Tail      bool   `json:"tail,omitempty"` // true when replying to GetSessionOutput
}

// ErrorMsg carries a taxonomy-coded error to a client or is logged when
// received from an agent.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
