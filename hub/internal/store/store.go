// Package store defines the hub's persistence interface and its SQLite
// implementation: the single embedded relational store backing auth state,
// session metadata, bounded output tails, and the audit log.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the persistence interface for the hub.
type Store interface {
	// Auth — single admin principal.
	GetAuth(ctx context.Context) (*AuthRecord, error)
	SetAuth(ctx context.Context, rec *AuthRecord) error

	// Sessions
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionState(ctx context.Context, id, state string) error
	RenameSession(ctx context.Context, id, name string) error
	UpdateSessionSize(ctx context.Context, id string, cols, rows int) error
	AppendOutput(ctx context.Context, id, chunk string, tailChars int) error
	GetOutput(ctx context.Context, id string) (string, error)
	DeleteSession(ctx context.Context, id string) error

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AuthRecord holds the single admin principal's credentials and the
// setup/bootstrap state machine (spec §4.1).
type AuthRecord struct {
	SetupComplete bool   `json:"setup_complete"`
	SetupTicket   string `json:"setup_ticket,omitempty"` // one-time token, cleared on completion
	PasswordHash  string `json:"-"`
	Salt          []byte `json:"-"`
	Iterations    int    `json:"-"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Session represents a persistent named PTY session.
type Session struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"` // stable agent key (lower-cased display name), not a connection id — must resolve across agent reconnects
	Name      string    `json:"name"`
	State     string    `json:"state"` // "running", "exited", "killed"
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent is a log entry for administrative/security-relevant actions.
type AuditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	SessionID string          `json:"session_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
