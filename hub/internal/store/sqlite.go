package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite store and runs migrations.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// For in-memory databases, use shared cache so all connections in the pool
	// see the same data. Without this, each pooled connection gets a separate
	// empty database.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS auth (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			setup_complete INTEGER NOT NULL DEFAULT 0,
			setup_ticket TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			salt BLOB,
			iterations INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'running',
			cols INTEGER NOT NULL DEFAULT 80,
			rows INTEGER NOT NULL DEFAULT 24,
			output TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_agent_id ON sessions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
		`CREATE TABLE IF NOT EXISTS audit (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit(action)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n  SQL: %s", err, m)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Auth ---

func (s *SQLiteStore) GetAuth(ctx context.Context) (*AuthRecord, error) {
	var rec AuthRecord
	var setupComplete int
	err := s.db.QueryRowContext(ctx,
		`SELECT setup_complete, setup_ticket, password_hash, salt, iterations, updated_at FROM auth WHERE id = 1`,
	).Scan(&setupComplete, &rec.SetupTicket, &rec.PasswordHash, &rec.Salt, &rec.Iterations, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.SetupComplete = setupComplete != 0
	return &rec, nil
}

func (s *SQLiteStore) SetAuth(ctx context.Context, rec *AuthRecord) error {
	setupComplete := 0
	if rec.SetupComplete {
		setupComplete = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth (id, setup_complete, setup_ticket, password_hash, salt, iterations, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   setup_complete = excluded.setup_complete,
		   setup_ticket = excluded.setup_ticket,
		   password_hash = excluded.password_hash,
		   salt = excluded.salt,
		   iterations = excluded.iterations,
		   updated_at = excluded.updated_at`,
		setupComplete, rec.SetupTicket, rec.PasswordHash, rec.Salt, rec.Iterations, rec.UpdatedAt,
	)
	return err
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, name, state, cols, rows, output, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`,
		sess.ID, sess.AgentID, sess.Name, sess.State, sess.Cols, sess.Rows, sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, name, state, cols, rows, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.AgentID, &sess.Name, &sess.State, &sess.Cols, &sess.Rows, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &sess, err
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, name, state, cols, rows, created_at, updated_at FROM sessions ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.AgentID, &sess.Name, &sess.State, &sess.Cols, &sess.Rows, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSessionState(ctx context.Context, id, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`, state, time.Now(), id,
	)
	return err
}

func (s *SQLiteStore) RenameSession(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE id = ?`, name, time.Now(), id,
	)
	return err
}

func (s *SQLiteStore) UpdateSessionSize(ctx context.Context, id string, cols, rows int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cols = ?, rows = ?, updated_at = ? WHERE id = ?`, cols, rows, time.Now(), id,
	)
	return err
}

// TruncateTail bounds combined to its trailing tailChars runes (or returns
// it unchanged if tailChars <= 0). Shared by the store's own append path and
// the hub's in-memory output buffer so both agree on where a session's
// output gets cut.
func TruncateTail(combined string, tailChars int) string {
	if tailChars > 0 {
		r := []rune(combined)
		if len(r) > tailChars {
			return string(r[len(r)-tailChars:])
		}
	}
	return combined
}

// AppendOutput appends chunk to the session's output column and truncates
// the stored value to the trailing tailChars runes, bounding the row size
// regardless of how long the session has been running.
func (s *SQLiteStore) AppendOutput(ctx context.Context, id, chunk string, tailChars int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing string
	if err := tx.QueryRowContext(ctx, `SELECT output FROM sessions WHERE id = ?`, id).Scan(&existing); err != nil {
		return err
	}

	combined := TruncateTail(existing+chunk, tailChars)

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET output = ?, updated_at = ? WHERE id = ?`, combined, time.Now(), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetOutput(ctx context.Context, id string) (string, error) {
	var output string
	err := s.db.QueryRowContext(ctx, `SELECT output FROM sessions WHERE id = ?`, id).Scan(&output)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return output, err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// --- Audit ---

func (s *SQLiteStore) LogAuditEvent(ctx context.Context, event *AuditEvent) error {
	detail := ""
	if event.Detail != nil {
		detail = string(event.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit (id, action, session_id, agent_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Action, event.SessionID, event.AgentID, detail, event.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, session_id, agent_id, detail, created_at FROM audit ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.SessionID, &e.AgentID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit WHERE created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// New opens the configured storage backend. Only SQLite is supported: the
// hub is specified to run against a single embedded relational store.
func New(dsn string) (Store, error) {
	return NewSQLite(dsn)
}
