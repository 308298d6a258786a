package hub

import (
	"context"
	"time"

	"github.com/nexus-relay/nexus/pkg/protocol"
)

// scheduleReconcile debounces viewport changes on a room by reconcileDebounce
// (§4.7): a burst of resize/join/leave events within the window collapses
// into a single PTY resize, so a browser window being dragged across a
// monitor does not storm the agent with resize frames.
func (m *Multiplexer) scheduleReconcile(room *sessionRoom) {
	room.mu.Lock()
	if room.timer != nil {
		room.timer.Stop()
	}
	room.timer = time.AfterFunc(reconcileDebounce, func() {
		m.reconcile(room)
	})
	room.mu.Unlock()
}

// reconcile computes the PTY size as the minimum cols and minimum rows across
// all attached viewers and pushes it to the owning agent if it changed. When
// the viewer set is empty the last known size is retained rather than
// collapsed to zero, so a session left unattended keeps its shape for the
// next viewer to join.
func (m *Multiplexer) reconcile(room *sessionRoom) {
	room.mu.Lock()
	var minCols, minRows int
	for _, vp := range room.viewers {
		if vp.cols <= 0 || vp.rows <= 0 {
			continue
		}
		if minCols == 0 || vp.cols < minCols {
			minCols = vp.cols
		}
		if minRows == 0 || vp.rows < minRows {
			minRows = vp.rows
		}
	}

	if minCols == 0 || minRows == 0 {
		// No viewers with a known size; retain whatever size the room last held.
		room.mu.Unlock()
		return
	}

	changed := minCols != room.lastCols || minRows != room.lastRows
	if changed {
		room.lastCols = minCols
		room.lastRows = minRows
	}
	sessionID, agentID := room.sessionID, room.agentID
	room.mu.Unlock()

	if !changed {
		return
	}

	ctx := context.Background()
	m.store.UpdateSessionSize(ctx, sessionID, minCols, minRows)

	m.mu.RLock()
	ac, online := m.byKey[agentID]
	m.mu.RUnlock()
	if !online {
		return
	}
	ac.send(protocol.Envelope{Type: protocol.TypeResize, SessionID: sessionID, Timestamp: time.Now(),
		Payload: protocol.ResizeToAgent{SessionID: sessionID, Cols: minCols, Rows: minRows}})
}
