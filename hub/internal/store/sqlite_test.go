package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestSession(t *testing.T, s *SQLiteStore, agentID, name string) *Session {
	t.Helper()
	now := time.Now()
	sess := &Session{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Name:      name,
		State:     "running",
		Cols:      80,
		Rows:      24,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("createTestSession(%s): %v", name, err)
	}
	return sess
}

func TestGetAuthBeforeSetup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil auth record before setup, got %+v", rec)
	}
}

func TestSetAndGetAuth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &AuthRecord{
		SetupComplete: true,
		PasswordHash:  "deadbeef",
		Salt:          []byte("salt-bytes"),
		Iterations:    150_000,
		UpdatedAt:     time.Now(),
	}
	if err := s.SetAuth(ctx, rec); err != nil {
		t.Fatalf("SetAuth: %v", err)
	}

	got, err := s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth: %v", err)
	}
	if got == nil {
		t.Fatal("GetAuth returned nil after SetAuth")
	}
	if !got.SetupComplete {
		t.Error("SetupComplete: got false, want true")
	}
	if got.PasswordHash != "deadbeef" {
		t.Errorf("PasswordHash: got %q, want %q", got.PasswordHash, "deadbeef")
	}
	if got.Iterations != 150_000 {
		t.Errorf("Iterations: got %d, want 150000", got.Iterations)
	}

	// Overwrite with new values (single-row upsert).
	rec.PasswordHash = "newhash"
	rec.Iterations = 200_000
	if err := s.SetAuth(ctx, rec); err != nil {
		t.Fatalf("SetAuth (update): %v", err)
	}
	got, err = s.GetAuth(ctx)
	if err != nil {
		t.Fatalf("GetAuth after update: %v", err)
	}
	if got.PasswordHash != "newhash" {
		t.Errorf("PasswordHash after update: got %q, want %q", got.PasswordHash, "newhash")
	}
	if got.Iterations != 200_000 {
		t.Errorf("Iterations after update: got %d, want 200000", got.Iterations)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil")
	}
	if got.AgentID != "agent-1" {
		t.Errorf("AgentID: got %q, want %q", got.AgentID, "agent-1")
	}
	if got.Name != "main" {
		t.Errorf("Name: got %q, want %q", got.Name, "main")
	}
	if got.State != "running" {
		t.Errorf("State: got %q, want %q", got.State, "running")
	}
	if got.Cols != 80 || got.Rows != 24 {
		t.Errorf("size: got %dx%d, want 80x24", got.Cols, got.Rows)
	}

	missing, err := s.GetSession(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetSession(nonexistent): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for nonexistent session, got %+v", missing)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, s, "agent-1", "one")
	createTestSession(t, s, "agent-1", "two")
	createTestSession(t, s, "agent-2", "three")

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("ListSessions: got %d, want 3", len(sessions))
	}
}

func TestUpdateSessionState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.UpdateSessionState(ctx, sess.ID, "exited"); err != nil {
		t.Fatalf("UpdateSessionState(exited): %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.State != "exited" {
		t.Errorf("State: got %q, want %q", got.State, "exited")
	}

	if err := s.UpdateSessionState(ctx, sess.ID, "killed"); err != nil {
		t.Fatalf("UpdateSessionState(killed): %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.State != "killed" {
		t.Errorf("State: got %q, want %q", got.State, "killed")
	}
}

func TestRenameSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.RenameSession(ctx, sess.ID, "renamed"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.Name != "renamed" {
		t.Errorf("Name: got %q, want %q", got.Name, "renamed")
	}
}

func TestUpdateSessionSize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.UpdateSessionSize(ctx, sess.ID, 120, 40); err != nil {
		t.Fatalf("UpdateSessionSize: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.Cols != 120 || got.Rows != 40 {
		t.Errorf("size: got %dx%d, want 120x40", got.Cols, got.Rows)
	}
}

func TestAppendAndGetOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.AppendOutput(ctx, sess.ID, "hello ", 0); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}
	if err := s.AppendOutput(ctx, sess.ID, "world", 0); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}

	out, err := s.GetOutput(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if out != "hello world" {
		t.Errorf("output: got %q, want %q", out, "hello world")
	}
}

func TestAppendOutputTruncatesToTail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.AppendOutput(ctx, sess.ID, "0123456789", 5); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}
	out, err := s.GetOutput(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if out != "56789" {
		t.Errorf("truncated output: got %q, want %q", out, "56789")
	}

	if err := s.AppendOutput(ctx, sess.ID, "ABC", 5); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}
	out, err = s.GetOutput(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if out != "89ABC" {
		t.Errorf("truncated output after second append: got %q, want %q", out, "89ABC")
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, s, "agent-1", "main")

	if err := s.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
}

func TestAuditEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []*AuditEvent{
		{ID: uuid.New().String(), Action: "auth.login", Detail: json.RawMessage(`{"ok":true}`), CreatedAt: time.Now()},
		{ID: uuid.New().String(), Action: "session.create", SessionID: "s1", AgentID: "agent-1", CreatedAt: time.Now()},
		{ID: uuid.New().String(), Action: "session.kill", SessionID: "s1", AgentID: "agent-1", CreatedAt: time.Now()},
	}

	for _, e := range events {
		if err := s.LogAuditEvent(ctx, e); err != nil {
			t.Fatalf("LogAuditEvent: %v", err)
		}
	}

	all, err := s.ListAuditEvents(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListAuditEvents: got %d, want 3", len(all))
	}

	limited, err := s.ListAuditEvents(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents(limit=2): %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("ListAuditEvents(limit=2): got %d, want 2", len(limited))
	}

	offset, err := s.ListAuditEvents(ctx, 100, 2)
	if err != nil {
		t.Fatalf("ListAuditEvents(offset=2): %v", err)
	}
	if len(offset) != 1 {
		t.Fatalf("ListAuditEvents(offset=2): got %d, want 1", len(offset))
	}
}

func TestPurgeOldAuditEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &AuditEvent{ID: uuid.New().String(), Action: "old.event", CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &AuditEvent{ID: uuid.New().String(), Action: "recent.event", CreatedAt: time.Now()}

	if err := s.LogAuditEvent(ctx, old); err != nil {
		t.Fatalf("LogAuditEvent(old): %v", err)
	}
	if err := s.LogAuditEvent(ctx, recent); err != nil {
		t.Fatalf("LogAuditEvent(recent): %v", err)
	}

	n, err := s.PurgeOldAuditEvents(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeOldAuditEvents: %v", err)
	}
	if n != 1 {
		t.Fatalf("PurgeOldAuditEvents: purged %d, want 1", n)
	}

	remaining, err := s.ListAuditEvents(ctx, 100, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents after purge: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Action != "recent.event" {
		t.Errorf("expected only recent.event to remain, got %+v", remaining)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
