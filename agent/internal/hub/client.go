// Package hub manages the agent's outbound WebSocket connection to the hub:
// registration, heartbeats, and dispatch of execute/resize/kill commands.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-relay/nexus/agent/internal/config"
	"github.com/nexus-relay/nexus/pkg/protocol"
)

// CommandHandler processes a decoded command envelope from the hub.
type CommandHandler func(env protocol.Envelope) error

// Client manages the agent's WebSocket link to the hub, including
// reconnect-with-backoff and heartbeats.
type Client struct {
	cfg     *config.Config
	handler CommandHandler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a hub-link client.
func NewClient(cfg *config.Config, handler CommandHandler, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "hub-client"),
	}
}

// Run connects to the hub and processes messages until ctx is canceled,
// reconnecting with exponential backoff and jitter between attempts.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.logger.Warn("connection to hub failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		delay := backoffDelay(attempt, c.cfg.ReconnectMinDelay.Duration, c.cfg.ReconnectMaxDelay.Duration)
		attempt++
		c.logger.Info("reconnecting to hub", "delay", delay, "attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoffDelay computes an exponentially growing delay (doubling each
// attempt, capped at max) with full jitter applied.
func backoffDelay(attempt int, min, max time.Duration) time.Duration {
	backoff := min
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			backoff = max
			break
		}
	}
	if backoff > max {
		backoff = max
	}
	if backoff <= 0 {
		return min
	}
	jittered := time.Duration(rand.Int63n(int64(backoff)))
	if jittered < min {
		jittered = min
	}
	return jittered
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.cfg.HubURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	reg := protocol.AgentRegister{
		DisplayName: c.cfg.DisplayName,
		Hostname:    hostnameOf(),
		Version:     agentVersion,
		Token:       c.cfg.Token,
	}
	if err := c.send(protocol.TypeAgentRegister, "", reg); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	c.logger.Info("connected to hub", "url", c.cfg.HubURL)

	stopHeartbeat := make(chan struct{})
	go c.heartbeatLoop(stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("invalid message from hub", "error", err)
			continue
		}

		if env.Type == protocol.TypeAgentRegisterAck {
			var ack protocol.AgentRegisterAck
			if decodePayload(env.Payload, &ack) && !ack.OK {
				return fmt.Errorf("registration rejected: %s", ack.Error)
			}
			continue
		}

		if err := c.handler(env); err != nil {
			c.logger.Warn("command handler error", "type", env.Type, "error", err)
		}
	}
}

func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	interval := c.cfg.HeartbeatInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = c.send(protocol.TypeAgentHeartbeat, "", protocol.AgentHeartbeat{})
		}
	}
}

// Send delivers an envelope payload to the hub over the active connection.
func (c *Client) Send(msgType, sessionID string, payload any) error {
	return c.send(msgType, sessionID, payload)
}

func (c *Client) send(msgType, sessionID string, payload any) error {
	env := protocol.Envelope{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func decodePayload(payload any, dst any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func hostnameOf() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

const agentVersion = "dev"
