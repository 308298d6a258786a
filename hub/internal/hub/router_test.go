package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-relay/nexus/hub/internal/auth"
	"github.com/nexus-relay/nexus/hub/internal/config"
	"github.com/nexus-relay/nexus/hub/internal/store"
	"github.com/nexus-relay/nexus/pkg/protocol"
)

func newTestMultiplexer(t *testing.T) (*Multiplexer, store.Store, *auth.Service) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret-at-least-32-characters-long"
	cfg.Auth.SessionLifetime = config.Duration{Duration: time.Hour}
	cfg.Agents.AllowUnauthenticated = true

	authSvc := auth.NewService(s, cfg)
	mux := NewMultiplexer(s, authSvc, authSvc, "*", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return mux, s, authSvc
}

func startTestServer(t *testing.T, mux *Multiplexer) string {
	t.Helper()
	h := http.NewServeMux()
	h.HandleFunc("/ws/agent", mux.HandleAgentWS)
	h.HandleFunc("/ws/client", mux.HandleClientWS)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAgent(t *testing.T, base, displayName string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/agent", nil)
	if err != nil {
		t.Fatalf("dial agent: %v", err)
	}
	reg := protocol.Envelope{
		Type: protocol.TypeAgentRegister, Timestamp: time.Now(),
		Payload: protocol.AgentRegister{DisplayName: displayName, Hostname: "test-host", Version: "test"},
	}
	if err := conn.WriteJSON(reg); err != nil {
		t.Fatalf("send register: %v", err)
	}
	ack := readAgentRegisterAck(t, conn)
	if !ack.OK {
		t.Fatalf("registration rejected: %s", ack.Error)
	}
	return conn
}

func readAgentRegisterAck(t *testing.T, conn *websocket.Conn) protocol.AgentRegisterAck {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read register ack: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode ack envelope: %v", err)
	}
	var ack protocol.AgentRegisterAck
	decodeInto(t, env.Payload, &ack)
	return ack
}

func dialClient(t *testing.T, base, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/client?token="+token, nil)
	if err != nil {
		t.Fatalf("dial client: %v", err)
	}
	return conn
}

func decodeInto(t *testing.T, payload any, dst any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatal(err)
	}
}

// waitForType reads envelopes off conn, discarding ones that don't match
// want, until it finds one or the deadline passes.
func waitForType(t *testing.T, conn *websocket.Conn, want string, timeout time.Duration) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %q", want)
		}
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		if env.Type == want {
			return env
		}
	}
}

func adminToken(t *testing.T, authSvc *auth.Service) string {
	t.Helper()
	token, err := authSvc.Setup(context.Background(), "hunter2hunter", "", true)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// TestAgentIdentityResolvesAcrossReconnect is a regression test for the
// ephemeral-connection-id bug: a session created against an agent must
// still route execute to that agent after it disconnects and reconnects,
// because ownership is keyed on the stable agent key, not the dropped
// connection's id.
func TestAgentIdentityResolvesAcrossReconnect(t *testing.T) {
	mux, _, authSvc := newTestMultiplexer(t)
	base := startTestServer(t, mux)

	agentConn1 := dialAgent(t, base, "Box-One")

	clientConn := dialClient(t, base, adminToken(t, authSvc))
	waitForType(t, clientConn, protocol.TypeClientRegisterAck, 2*time.Second)
	agentList := waitForType(t, clientConn, protocol.TypeAgentList, 2*time.Second)
	var agents protocol.AgentListMsg
	decodeInto(t, agentList.Payload, &agents)
	if len(agents.Agents) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(agents.Agents))
	}
	agentID := agents.Agents[0].ID
	if agentID != "box-one" {
		t.Fatalf("expected agent id to be the stable lower-cased key %q, got %q", "box-one", agentID)
	}

	if err := clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeCreateSession, Timestamp: time.Now(),
		Payload: protocol.CreateSession{AgentID: agentID, Name: "s1", Cols: 80, Rows: 24},
	}); err != nil {
		t.Fatalf("send create_session: %v", err)
	}
	created := waitForType(t, clientConn, protocol.TypeSessionCreated, 2*time.Second)
	var createdMsg protocol.SessionCreatedMsg
	decodeInto(t, created.Payload, &createdMsg)
	if !createdMsg.OK {
		t.Fatalf("create_session failed: %s", createdMsg.Error)
	}
	sessionID := createdMsg.SessionID

	// Drop the agent connection and reconnect under the same display name;
	// the hub assigns a brand-new ephemeral connection id each time.
	agentConn1.Close()
	time.Sleep(50 * time.Millisecond)
	agentConn2 := dialAgent(t, base, "Box-One")
	defer agentConn2.Close()

	if err := clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeExecute, SessionID: sessionID, Timestamp: time.Now(),
		Payload: protocol.ClientExecute{SessionID: sessionID, Data: "ls\n"},
	}); err != nil {
		t.Fatalf("send execute: %v", err)
	}

	agentConn2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := agentConn2.ReadMessage()
	if err != nil {
		t.Fatalf("execute never reached reconnected agent: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode execute envelope: %v", err)
	}
	if env.Type != protocol.TypeExecute {
		t.Fatalf("expected execute envelope, got %q", env.Type)
	}
	var exec protocol.ExecuteToAgent
	decodeInto(t, env.Payload, &exec)
	if exec.SessionID != sessionID || exec.Data != "ls\n" {
		t.Fatalf("unexpected execute payload: %+v", exec)
	}
}

func TestCreateSessionRejectsUnknownAgent(t *testing.T) {
	mux, _, authSvc := newTestMultiplexer(t)
	base := startTestServer(t, mux)

	clientConn := dialClient(t, base, adminToken(t, authSvc))
	waitForType(t, clientConn, protocol.TypeClientRegisterAck, 2*time.Second)
	waitForType(t, clientConn, protocol.TypeAgentList, 2*time.Second)

	if err := clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeCreateSession, Timestamp: time.Now(),
		Payload: protocol.CreateSession{AgentID: "no-such-agent", Name: "s1"},
	}); err != nil {
		t.Fatalf("send create_session: %v", err)
	}

	errEnv := waitForType(t, clientConn, protocol.TypeError, 2*time.Second)
	var errMsg protocol.ErrorMsg
	decodeInto(t, errEnv.Payload, &errMsg)
	if errMsg.Code != "agent_offline" {
		t.Fatalf("expected agent_offline, got %q", errMsg.Code)
	}
}

// TestExecuteAuditsOnlySignificantWrites checks the §6.2 audit condition: a
// single keystroke is not audited, but a multi-character write or one
// carrying a line terminator is.
func TestExecuteAuditsOnlySignificantWrites(t *testing.T) {
	mux, st, authSvc := newTestMultiplexer(t)
	base := startTestServer(t, mux)

	agentConn := dialAgent(t, base, "Box-Two")
	defer agentConn.Close()

	clientConn := dialClient(t, base, adminToken(t, authSvc))
	waitForType(t, clientConn, protocol.TypeClientRegisterAck, 2*time.Second)
	waitForType(t, clientConn, protocol.TypeAgentList, 2*time.Second)

	clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeCreateSession, Timestamp: time.Now(),
		Payload: protocol.CreateSession{AgentID: "box-two", Name: "s1", Cols: 80, Rows: 24},
	})
	created := waitForType(t, clientConn, protocol.TypeSessionCreated, 2*time.Second)
	var createdMsg protocol.SessionCreatedMsg
	decodeInto(t, created.Payload, &createdMsg)
	sessionID := createdMsg.SessionID

	drainExecute := func() {
		agentConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		agentConn.ReadMessage()
	}

	clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeExecute, SessionID: sessionID, Timestamp: time.Now(),
		Payload: protocol.ClientExecute{SessionID: sessionID, Data: "a"},
	})
	drainExecute()

	clientConn.WriteJSON(protocol.Envelope{
		Type: protocol.TypeExecute, SessionID: sessionID, Timestamp: time.Now(),
		Payload: protocol.ClientExecute{SessionID: sessionID, Data: "ls\n"},
	})
	drainExecute()

	// Give the async LogAuditEvent calls a moment to land.
	time.Sleep(100 * time.Millisecond)

	events, err := st.ListAuditEvents(context.Background(), 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	var executeEvents int
	for _, e := range events {
		if e.Action == "session.execute" {
			executeEvents++
		}
	}
	if executeEvents != 1 {
		t.Fatalf("expected exactly 1 audited execute (the multi-char write), got %d", executeEvents)
	}
}

func TestIsAuditWorthyWrite(t *testing.T) {
	cases := []struct {
		data string
		want bool
	}{
		{"a", false},
		{"", false},
		{"ab", true},
		{"\n", true},
		{"\r", true},
		{"a\n", true},
	}
	for _, c := range cases {
		if got := isAuditWorthyWrite(c.data); got != c.want {
			t.Errorf("isAuditWorthyWrite(%q) = %v, want %v", c.data, got, c.want)
		}
	}
}
