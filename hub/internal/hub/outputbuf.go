package hub

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-relay/nexus/hub/internal/store"
)

// outputQuietPeriod is the debounce window output writes are batched over
// (§4.2): a burst of agent output frames within the window collapses into a
// single store write instead of one transaction per frame.
const outputQuietPeriod = 2 * time.Second

// outputBuffer is a session's in-memory output tail: the authoritative read
// source while the hub is running, with pending bytes flushed to the store
// on a debounce timer (or eagerly, on graceful shutdown).
type outputBuffer struct {
	mu      sync.Mutex
	tail    string
	pending string
	timer   *time.Timer
}

// bufferFor returns the buffer for a session, creating it if necessary, and
// reports whether it was just created.
func (m *Multiplexer) bufferFor(sessionID string) (*outputBuffer, bool) {
	m.outputMu.Lock()
	defer m.outputMu.Unlock()
	if buf, ok := m.outputs[sessionID]; ok {
		return buf, false
	}
	buf := &outputBuffer{}
	m.outputs[sessionID] = buf
	return buf, true
}

// appendOutput records chunk in the session's in-memory tail immediately
// and schedules a debounced flush to the store. A freshly created buffer is
// seeded from whatever the store already holds, so the in-memory tail stays
// a complete view across hub restarts rather than just what arrived since
// this process started.
func (m *Multiplexer) appendOutput(sessionID, chunk string) {
	buf, created := m.bufferFor(sessionID)

	buf.mu.Lock()
	defer buf.mu.Unlock()

	if created {
		if existing, err := m.store.GetOutput(context.Background(), sessionID); err == nil {
			buf.tail = existing
		}
	}

	buf.tail = store.TruncateTail(buf.tail+chunk, m.outputTailChars)
	buf.pending += chunk
	if buf.timer == nil {
		buf.timer = time.AfterFunc(outputQuietPeriod, func() { m.flushOutput(sessionID) })
	}
}

// flushOutput commits a session's pending bytes to the store. Called by the
// debounce timer and, for every buffered session, during graceful shutdown.
func (m *Multiplexer) flushOutput(sessionID string) {
	m.outputMu.Lock()
	buf, ok := m.outputs[sessionID]
	m.outputMu.Unlock()
	if !ok {
		return
	}

	buf.mu.Lock()
	pending := buf.pending
	buf.pending = ""
	buf.timer = nil
	buf.mu.Unlock()

	if pending == "" {
		return
	}
	if err := m.store.AppendOutput(context.Background(), sessionID, pending, m.outputTailChars); err != nil {
		m.logger.Warn("flush output failed", "session_id", sessionID, "error", err)
	}
}

// getOutputTail returns the authoritative output tail for a session: the
// in-memory buffer if the hub has handled output for it since it started
// (or since it was last reloaded), falling back to the persisted row
// otherwise (e.g. a reconnect before the session has produced any output
// in this process's lifetime).
func (m *Multiplexer) getOutputTail(ctx context.Context, sessionID string) (string, error) {
	m.outputMu.Lock()
	buf, ok := m.outputs[sessionID]
	m.outputMu.Unlock()
	if !ok {
		return m.store.GetOutput(ctx, sessionID)
	}
	buf.mu.Lock()
	tail := buf.tail
	buf.mu.Unlock()
	return tail, nil
}

// removeOutputBuffer discards a session's in-memory tail and cancels any
// pending flush timer, used when a session is closed for good.
func (m *Multiplexer) removeOutputBuffer(sessionID string) {
	m.outputMu.Lock()
	buf, ok := m.outputs[sessionID]
	delete(m.outputs, sessionID)
	m.outputMu.Unlock()
	if !ok {
		return
	}
	buf.mu.Lock()
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.mu.Unlock()
}

// FlushOutputs commits every session's pending in-memory output to the
// store. The hub calls this during graceful shutdown so buffered output
// from the debounce window is never lost (§4.2).
func (m *Multiplexer) FlushOutputs() {
	m.outputMu.Lock()
	ids := make([]string, 0, len(m.outputs))
	for id := range m.outputs {
		ids = append(ids, id)
	}
	m.outputMu.Unlock()
	for _, id := range ids {
		m.flushOutput(id)
	}
}
