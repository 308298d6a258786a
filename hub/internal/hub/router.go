package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexus-relay/nexus/hub/internal/auth"
	"github.com/nexus-relay/nexus/hub/internal/store"
	"github.com/nexus-relay/nexus/pkg/protocol"
)

const (
	outboundQueueSize  = 1024
	authHandshakeTimeout = 10 * time.Second
	agentHealthTimeout   = 15 * time.Second
	agentSweepInterval   = 5 * time.Second
	reconcileDebounce    = 100 * time.Millisecond
)

func makeUpgrader(allowedOrigin string) websocket.Upgrader {
	allowAll := allowedOrigin == "" || allowedOrigin == "*"
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return origin == allowedOrigin
		},
	}
}

// agentConn is a live websocket connection to a registered agent.
type agentConn struct {
	id          string
	key         string // lower-cased display name
	displayName string
	hostname    string
	version     string
	conn        *websocket.Conn
	outbox      chan []byte
	lastSeen    atomic.Int64 // unix nano
	closeOnce   sync.Once
}

func (a *agentConn) touch() { a.lastSeen.Store(time.Now().UnixNano()) }

func (a *agentConn) online() bool {
	return time.Since(time.Unix(0, a.lastSeen.Load())) < agentHealthTimeout
}

func (a *agentConn) send(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case a.outbox <- data:
	default:
		a.closeOnce.Do(func() { _ = a.conn.Close() })
	}
}

// clientConn is a live websocket connection to an authenticated browser.
type clientConn struct {
	id        string
	conn      *websocket.Conn
	outbox    chan []byte
	closeOnce sync.Once
}

func (c *clientConn) send(env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.outbox <- data:
	default:
		c.closeOnce.Do(func() { _ = c.conn.Close() })
	}
}

type viewport struct {
	cols, rows int
}

// sessionRoom tracks the live viewers attached to a session so the
// reconciler can compute the min-over-viewers PTY size (§4.7) and so
// output can fan out only to the clients actually watching.
type sessionRoom struct {
	mu          sync.Mutex
	sessionID   string
	agentID     string
	viewers     map[string]viewport
	subscribers map[string]*clientConn
	lastCols    int
	lastRows    int
	timer       *time.Timer
}

// Multiplexer is the hub's session-plane core (C3 agent registry, C5
// multiplexer, C7 viewport reconciler). One reader goroutine per
// connection plus one writer goroutine draining a bounded outbound queue,
// so a slow or wedged peer never blocks routing for anyone else.
type Multiplexer struct {
	store           store.Store
	authProvider    auth.Provider
	agentAuth       auth.AgentAuthProvider
	logger          *slog.Logger
	agentUpgrader   websocket.Upgrader
	clientUpgrader  websocket.Upgrader
	outputTailChars int

	mu      sync.RWMutex
	byKey   map[string]*agentConn // stable agent key (lower(display name)) -> conn
	clients map[string]*clientConn
	rooms   map[string]*sessionRoom

	outputMu sync.Mutex
	outputs  map[string]*outputBuffer
}

// NewMultiplexer builds the hub's session-plane router.
func NewMultiplexer(s store.Store, ap auth.Provider, aa auth.AgentAuthProvider, clientOrigin string, outputTailChars int, logger *slog.Logger) *Multiplexer {
	if outputTailChars <= 0 {
		outputTailChars = 50_000
	}
	return &Multiplexer{
		store:           s,
		authProvider:    ap,
		agentAuth:       aa,
		logger:          logger.With("component", "hub"),
		agentUpgrader:   makeUpgrader(clientOrigin),
		clientUpgrader:  makeUpgrader(clientOrigin),
		outputTailChars: outputTailChars,
		byKey:           make(map[string]*agentConn),
		clients:         make(map[string]*clientConn),
		rooms:           make(map[string]*sessionRoom),
		outputs:         make(map[string]*outputBuffer),
	}
}

// --- Agent link (GET /ws/agent) ---

func (m *Multiplexer) HandleAgentWS(w http.ResponseWriter, req *http.Request) {
	conn, err := m.agentUpgrader.Upgrade(w, req, nil)
	if err != nil {
		m.logger.Warn("agent websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(authHandshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		m.logger.Debug("agent handshake read failed", "error", err)
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Type != protocol.TypeAgentRegister {
		m.logger.Warn("agent handshake was not a register frame")
		return
	}
	var reg protocol.AgentRegister
	if b, err := json.Marshal(env.Payload); err == nil {
		json.Unmarshal(b, &reg)
	}

	token := reg.Token
	if token == "" {
		token = reg.ApiKey
	}
	if !m.agentAuth.AllowUnauthenticatedAgents() && !m.agentAuth.ValidateAgentToken(token) {
		m.sendAgentRaw(conn, protocol.AgentRegisterAck{OK: false, Error: "invalid credentials"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	ac := &agentConn{
		id:          uuid.New().String(),
		key:         strings.ToLower(reg.DisplayName),
		displayName: reg.DisplayName,
		hostname:    reg.Hostname,
		version:     reg.Version,
		conn:        conn,
		outbox:      make(chan []byte, outboundQueueSize),
	}
	ac.touch()

	m.mu.Lock()
	if old, ok := m.byKey[ac.key]; ok {
		m.logger.Info("agent reconnected, closing previous link", "agent_key", ac.key, "display_name", ac.displayName)
		old.closeOnce.Do(func() { _ = old.conn.Close() })
	}
	m.byKey[ac.key] = ac
	m.mu.Unlock()

	// AgentID on the wire is the stable key, not the per-connection id: a
	// session created against this agent must still resolve after it
	// reconnects (spec §8 invariant 1).
	m.sendAgentRaw(conn, protocol.AgentRegisterAck{OK: true, AgentID: ac.key})
	m.broadcastAgentList()
	m.logger.Info("agent connected", "agent_key", ac.key, "conn_id", ac.id, "display_name", ac.displayName)

	done := make(chan struct{})
	go m.agentWriter(ac, done)

	defer func() {
		close(done)
		m.mu.Lock()
		if cur, ok := m.byKey[ac.key]; ok && cur == ac {
			delete(m.byKey, ac.key)
		}
		m.mu.Unlock()
		m.broadcastAgentList()
		m.logger.Info("agent disconnected", "agent_key", ac.key, "conn_id", ac.id, "display_name", ac.displayName)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ac.touch()

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue // ProtocolError: drop malformed frame
		}
		m.handleAgentMessage(ac, env)
	}
}

func (m *Multiplexer) agentWriter(ac *agentConn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data, ok := <-ac.outbox:
			if !ok {
				return
			}
			if err := ac.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (m *Multiplexer) sendAgentRaw(conn *websocket.Conn, payload any) {
	env := protocol.Envelope{Type: protocol.TypeAgentRegisterAck, Timestamp: time.Now(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Multiplexer) handleAgentMessage(ac *agentConn, env protocol.Envelope) {
	ctx := context.Background()
	switch env.Type {
	case protocol.TypeAgentHeartbeat:
		// touch() above already recorded liveness; nothing else to do.

	case protocol.TypeAgentOutput:
		var msg protocol.AgentOutputMsg
		if !decodePayload(env.Payload, &msg) {
			return
		}
		sess, err := m.store.GetSession(ctx, msg.SessionID)
		if err != nil || sess == nil || sess.AgentID != ac.key {
			m.logger.Warn("output for unknown/foreign session", "session_id", msg.SessionID, "agent_key", ac.key)
			return
		}
		m.appendOutput(msg.SessionID, msg.Data)
		m.broadcastToRoom(msg.SessionID, protocol.SessionOutputMsg{SessionID: msg.SessionID, Data: msg.Data})

	case protocol.TypeAgentSessionExited:
		var msg protocol.AgentSessionExited
		if !decodePayload(env.Payload, &msg) {
			return
		}
		sess, err := m.store.GetSession(ctx, msg.SessionID)
		if err != nil || sess == nil || sess.AgentID != ac.key {
			return
		}
		if sess.State != "killed" {
			m.store.UpdateSessionState(ctx, msg.SessionID, "exited")
			m.broadcastSessionList()
		}

	default:
		m.logger.Warn("unknown agent message type", "type", env.Type, "agent_key", ac.key)
	}
}

// --- Client link (GET /ws/client) ---

func (m *Multiplexer) HandleClientWS(w http.ResponseWriter, req *http.Request) {
	tokenStr := req.URL.Query().Get("token")
	if tokenStr == "" {
		tokenStr = req.Header.Get("Authorization")
		if len(tokenStr) > 7 && tokenStr[:7] == "Bearer " {
			tokenStr = tokenStr[7:]
		}
	}

	if _, err := m.authProvider.ValidateToken(req.Context(), tokenStr); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := m.clientUpgrader.Upgrade(w, req, nil)
	if err != nil {
		m.logger.Warn("client websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	cc := &clientConn{
		id:     uuid.New().String(),
		conn:   conn,
		outbox: make(chan []byte, outboundQueueSize),
	}

	m.mu.Lock()
	m.clients[cc.id] = cc
	m.mu.Unlock()

	m.logger.Info("client connected", "conn_id", cc.id)

	done := make(chan struct{})
	go m.clientWriter(cc, done)

	cc.send(protocol.Envelope{Type: protocol.TypeClientRegisterAck, Timestamp: time.Now(), Payload: protocol.ClientRegisterAck{OK: true}})
	m.sendAgentListTo(cc)
	m.sendSessionListTo(cc)

	defer func() {
		close(done)
		m.mu.Lock()
		delete(m.clients, cc.id)
		m.mu.Unlock()
		m.detachClientFromAllRooms(cc.id)
		m.logger.Info("client disconnected", "conn_id", cc.id)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		m.handleClientMessage(cc, env)
	}
}

func (m *Multiplexer) clientWriter(cc *clientConn, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data, ok := <-cc.outbox:
			if !ok {
				return
			}
			if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (m *Multiplexer) handleClientMessage(cc *clientConn, env protocol.Envelope) {
	ctx := context.Background()
	switch env.Type {
	case protocol.TypeClientRegister:
		cc.send(protocol.Envelope{Type: protocol.TypeClientRegisterAck, Timestamp: time.Now(), Payload: protocol.ClientRegisterAck{OK: true}})

	case protocol.TypeCreateSession:
		var msg protocol.CreateSession
		if !decodePayload(env.Payload, &msg) {
			return
		}
		m.mu.RLock()
		ac, ok := m.byKey[msg.AgentID]
		m.mu.RUnlock()
		if !ok {
			m.errorTo(cc, "agent_offline", "target agent is not connected")
			return
		}

		cols, rows := msg.Cols, msg.Rows
		if cols <= 0 {
			cols = 80
		}
		if rows <= 0 {
			rows = 24
		}
		now := time.Now()
		sess := &store.Session{
			ID:        uuid.New().String(),
			AgentID:   ac.key,
			Name:      msg.Name,
			State:     "running",
			Cols:      cols,
			Rows:      rows,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			cc.send(protocol.Envelope{Type: protocol.TypeSessionCreated, Timestamp: time.Now(),
				Payload: protocol.SessionCreatedMsg{OK: false, Error: err.Error()}})
			return
		}
		m.store.LogAuditEvent(ctx, &store.AuditEvent{ID: uuid.New().String(), Action: "session.create", SessionID: sess.ID, AgentID: ac.key, CreatedAt: now})

		cc.send(protocol.Envelope{Type: protocol.TypeSessionCreated, SessionID: sess.ID, Timestamp: time.Now(),
			Payload: protocol.SessionCreatedMsg{SessionID: sess.ID, OK: true}})
		m.broadcastSessionList()

	case protocol.TypeCloseSession:
		var msg protocol.CloseSessionMsg
		if !decodePayload(env.Payload, &msg) {
			return
		}
		sess, err := m.store.GetSession(ctx, msg.SessionID)
		if err != nil || sess == nil {
			m.errorTo(cc, "session_not_found", "session not found")
			return
		}
		m.mu.RLock()
		ac, online := m.byKey[sess.AgentID]
		m.mu.RUnlock()
		if online {
			ac.send(protocol.Envelope{Type: protocol.TypeKillSession, SessionID: sess.ID, Timestamp: time.Now(),
				Payload: protocol.KillSessionToAgent{SessionID: sess.ID}})
		}
		m.store.DeleteSession(ctx, sess.ID)
		m.store.LogAuditEvent(ctx, &store.AuditEvent{ID: uuid.New().String(), Action: "session.close", SessionID: sess.ID, AgentID: sess.AgentID, CreatedAt: time.Now()})
		m.removeRoom(sess.ID)
		m.removeOutputBuffer(sess.ID)
		m.broadcastToAll(protocol.Envelope{Type: protocol.TypeSessionClosed, SessionID: sess.ID, Timestamp: time.Now(),
			Payload: protocol.SessionClosedMsg{SessionID: sess.ID, Reason: "closed"}})
		m.broadcastSessionList()

	case protocol.TypeRenameSession:
		var msg protocol.RenameSession
		if !decodePayload(env.Payload, &msg) {
			return
		}
		if err := m.store.RenameSession(ctx, msg.SessionID, msg.Name); err != nil {
			m.errorTo(cc, "rename_failed", err.Error())
			return
		}
		m.broadcastSessionList()

	case protocol.TypeJoinSession:
		var msg protocol.JoinSession
		if !decodePayload(env.Payload, &msg) {
			return
		}
		sess, err := m.store.GetSession(ctx, msg.SessionID)
		if err != nil || sess == nil {
			m.errorTo(cc, "session_not_found", "session not found")
			return
		}
		room := m.roomFor(sess.ID, sess.AgentID)
		room.mu.Lock()
		room.viewers[cc.id] = viewport{cols: msg.Cols, rows: msg.Rows}
		room.subscribers[cc.id] = cc
		room.mu.Unlock()
		m.scheduleReconcile(room)

		tail, err := m.getOutputTail(ctx, sess.ID)
		if err == nil && tail != "" {
			cc.send(protocol.Envelope{Type: protocol.TypeSessionOutput, SessionID: sess.ID, Timestamp: time.Now(),
				Payload: protocol.SessionOutputMsg{SessionID: sess.ID, Data: tail, Tail: true}})
		}

	case protocol.TypeLeaveSession:
		var msg protocol.LeaveSession
		if !decodePayload(env.Payload, &msg) {
			return
		}
		m.detachClientFromRoom(msg.SessionID, cc.id)

	case protocol.TypeGetSessionList:
		m.sendSessionListTo(cc)

	case protocol.TypeGetSessionOutput:
		var msg protocol.GetSessionOutput
		if !decodePayload(env.Payload, &msg) {
			return
		}
		tail, err := m.getOutputTail(ctx, msg.SessionID)
		if err != nil {
			m.errorTo(cc, "session_not_found", "session not found")
			return
		}
		cc.send(protocol.Envelope{Type: protocol.TypeSessionOutput, SessionID: msg.SessionID, Timestamp: time.Now(),
			Payload: protocol.SessionOutputMsg{SessionID: msg.SessionID, Data: tail, Tail: true}})

	case protocol.TypeExecute:
		var msg protocol.ClientExecute
		if !decodePayload(env.Payload, &msg) {
			return
		}
		sess, err := m.store.GetSession(ctx, msg.SessionID)
		if err != nil || sess == nil {
			m.errorTo(cc, "session_not_found", "session not found")
			return
		}
		m.mu.RLock()
		ac, online := m.byKey[sess.AgentID]
		m.mu.RUnlock()
		if !online {
			m.errorTo(cc, "agent_offline", "owning agent is not connected")
			return
		}
		if isAuditWorthyWrite(msg.Data) {
			m.store.LogAuditEvent(ctx, &store.AuditEvent{ID: uuid.New().String(), Action: "session.execute", SessionID: sess.ID, AgentID: sess.AgentID, CreatedAt: time.Now()})
		}
		ac.send(protocol.Envelope{Type: protocol.TypeExecute, SessionID: sess.ID, Timestamp: time.Now(),
			Payload: protocol.ExecuteToAgent{SessionID: sess.ID, Data: msg.Data}})

	case protocol.TypeResize:
		var msg protocol.ClientResize
		if !decodePayload(env.Payload, &msg) {
			return
		}
		m.mu.RLock()
		room, ok := m.rooms[msg.SessionID]
		m.mu.RUnlock()
		if !ok {
			return
		}
		room.mu.Lock()
		room.viewers[cc.id] = viewport{cols: msg.Cols, rows: msg.Rows}
		room.mu.Unlock()
		m.scheduleReconcile(room)

	default:
		m.logger.Warn("unknown client message type", "type", env.Type, "conn_id", cc.id)
	}
}

func (m *Multiplexer) errorTo(cc *clientConn, code, message string) {
	cc.send(protocol.Envelope{Type: protocol.TypeError, Timestamp: time.Now(), Payload: protocol.ErrorMsg{Code: code, Message: message}})
}

func (m *Multiplexer) roomFor(sessionID, agentID string) *sessionRoom {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[sessionID]
	if !ok {
		room = &sessionRoom{
			sessionID:   sessionID,
			agentID:     agentID,
			viewers:     make(map[string]viewport),
			subscribers: make(map[string]*clientConn),
		}
		m.rooms[sessionID] = room
	}
	return room
}

func (m *Multiplexer) removeRoom(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[sessionID]; ok {
		room.mu.Lock()
		if room.timer != nil {
			room.timer.Stop()
		}
		room.mu.Unlock()
		delete(m.rooms, sessionID)
	}
}

func (m *Multiplexer) detachClientFromRoom(sessionID, connID string) {
	m.mu.RLock()
	room, ok := m.rooms[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.Lock()
	delete(room.viewers, connID)
	delete(room.subscribers, connID)
	room.mu.Unlock()
	m.scheduleReconcile(room)
}

func (m *Multiplexer) detachClientFromAllRooms(connID string) {
	m.mu.RLock()
	rooms := make([]*sessionRoom, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	for _, room := range rooms {
		room.mu.Lock()
		_, had := room.viewers[connID]
		delete(room.viewers, connID)
		delete(room.subscribers, connID)
		room.mu.Unlock()
		if had {
			m.scheduleReconcile(room)
		}
	}
}

func (m *Multiplexer) broadcastToRoom(sessionID string, payload protocol.SessionOutputMsg) {
	m.mu.RLock()
	room, ok := m.rooms[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	room.mu.Lock()
	subs := make([]*clientConn, 0, len(room.subscribers))
	for _, cc := range room.subscribers {
		subs = append(subs, cc)
	}
	room.mu.Unlock()

	env := protocol.Envelope{Type: protocol.TypeSessionOutput, SessionID: sessionID, Timestamp: time.Now(), Payload: payload}
	for _, cc := range subs {
		cc.send(env)
	}
}

func (m *Multiplexer) broadcastToAll(env protocol.Envelope) {
	m.mu.RLock()
	clients := make([]*clientConn, 0, len(m.clients))
	for _, cc := range m.clients {
		clients = append(clients, cc)
	}
	m.mu.RUnlock()
	for _, cc := range clients {
		cc.send(env)
	}
}

func (m *Multiplexer) agentSummaries() []protocol.AgentSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]protocol.AgentSummary, 0, len(m.byKey))
	for _, ac := range m.byKey {
		out = append(out, protocol.AgentSummary{
			ID:          ac.key,
			DisplayName: ac.displayName,
			Hostname:    ac.hostname,
			Online:      ac.online(),
			LastSeen:    time.Unix(0, ac.lastSeen.Load()),
		})
	}
	return out
}

func (m *Multiplexer) sendAgentListTo(cc *clientConn) {
	cc.send(protocol.Envelope{Type: protocol.TypeAgentList, Timestamp: time.Now(), Payload: protocol.AgentListMsg{Agents: m.agentSummaries()}})
}

func (m *Multiplexer) broadcastAgentList() {
	m.broadcastToAll(protocol.Envelope{Type: protocol.TypeAgentList, Timestamp: time.Now(), Payload: protocol.AgentListMsg{Agents: m.agentSummaries()}})
}

func (m *Multiplexer) sessionSummaries(ctx context.Context) []protocol.SessionSummary {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		return nil
	}
	out := make([]protocol.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, protocol.SessionSummary{
			ID: s.ID, AgentID: s.AgentID, Name: s.Name, State: s.State,
			Cols: s.Cols, Rows: s.Rows, CreatedAt: s.CreatedAt,
		})
	}
	return out
}

func (m *Multiplexer) sendSessionListTo(cc *clientConn) {
	cc.send(protocol.Envelope{Type: protocol.TypeSessionList, Timestamp: time.Now(), Payload: protocol.SessionListMsg{Sessions: m.sessionSummaries(context.Background())}})
}

func (m *Multiplexer) broadcastSessionList() {
	m.broadcastToAll(protocol.Envelope{Type: protocol.TypeSessionList, Timestamp: time.Now(), Payload: protocol.SessionListMsg{Sessions: m.sessionSummaries(context.Background())}})
}

// StartAgentLivenessSweep runs the C3 liveness sweeper: agents that have
// not sent anything (heartbeat or otherwise) within agentHealthTimeout are
// reported offline to clients. Grounded on the teacher's
// StartIdleReaper ticker-goroutine pattern.
func (m *Multiplexer) StartAgentLivenessSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(agentSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.RLock()
				stale := false
				for _, ac := range m.byKey {
					if !ac.online() {
						stale = true
						break
					}
				}
				m.mu.RUnlock()
				if stale {
					m.broadcastAgentList()
				}
			}
		}
	}()
}

func decodePayload(payload any, dst any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

// isAuditWorthyWrite reports whether an execute payload is significant
// enough to audit (§6.2): single printable keystrokes are too noisy to log
// one-by-one, but multi-character writes (pastes, pipelines) and anything
// carrying a line terminator (a submitted command) are.
func isAuditWorthyWrite(data string) bool {
	return len([]rune(data)) > 1 || strings.ContainsAny(data, "\r\n")
}
