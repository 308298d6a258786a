package hub

import (
	"context"
	"testing"

	"github.com/nexus-relay/nexus/hub/internal/store"
)

// TestAppendOutputIsBufferedNotWrittenImmediately is the §4.2 coalescing
// regression test: a single output frame must not hit the store
// synchronously. The in-memory tail is authoritative immediately; the
// store only sees it once flushed.
func TestAppendOutputIsBufferedNotWrittenImmediately(t *testing.T) {
	mux, st, _ := newTestMultiplexer(t)
	ctx := context.Background()

	sess := &store.Session{ID: "sess-1", AgentID: "agent-a", Name: "s", State: "running", Cols: 80, Rows: 24}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	mux.appendOutput("sess-1", "hello ")
	mux.appendOutput("sess-1", "world")

	tail, err := mux.getOutputTail(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if tail != "hello world" {
		t.Fatalf("in-memory tail: got %q, want %q", tail, "hello world")
	}

	stored, err := st.GetOutput(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "" {
		t.Fatalf("expected no write to the store before the debounce fires, got %q", stored)
	}
}

// TestFlushOutputCommitsPendingBytes simulates the debounce timer firing
// (or a graceful shutdown) and checks the store catches up.
func TestFlushOutputCommitsPendingBytes(t *testing.T) {
	mux, st, _ := newTestMultiplexer(t)
	ctx := context.Background()

	sess := &store.Session{ID: "sess-2", AgentID: "agent-a", Name: "s", State: "running", Cols: 80, Rows: 24}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	mux.appendOutput("sess-2", "line one\n")
	mux.flushOutput("sess-2")

	stored, err := st.GetOutput(ctx, "sess-2")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "line one\n" {
		t.Fatalf("got %q after flush, want %q", stored, "line one\n")
	}

	// A second append should batch on top without re-sending the part
	// already flushed.
	mux.appendOutput("sess-2", "line two\n")
	mux.flushOutput("sess-2")
	stored, err = st.GetOutput(ctx, "sess-2")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "line one\nline two\n" {
		t.Fatalf("got %q after second flush, want %q", stored, "line one\nline two\n")
	}
}

// TestFlushOutputsFlushesEverySession exercises the graceful-shutdown path:
// every buffered session commits its pending bytes, regardless of the
// debounce timer.
func TestFlushOutputsFlushesEverySession(t *testing.T) {
	mux, st, _ := newTestMultiplexer(t)
	ctx := context.Background()

	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		if err := st.CreateSession(ctx, &store.Session{ID: id, AgentID: "agent-a", State: "running"}); err != nil {
			t.Fatal(err)
		}
		mux.appendOutput(id, "data-"+id)
	}

	mux.FlushOutputs()

	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		stored, err := st.GetOutput(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		want := "data-" + id
		if stored != want {
			t.Fatalf("session %s: got %q, want %q", id, stored, want)
		}
	}
}

// TestGetOutputTailFallsBackToStoreWhenNoBuffer covers a client requesting
// output for a session the hub has not buffered yet in this process's
// lifetime (e.g. right after a restart, before any new output arrives).
func TestGetOutputTailFallsBackToStoreWhenNoBuffer(t *testing.T) {
	mux, st, _ := newTestMultiplexer(t)
	ctx := context.Background()

	sess := &store.Session{ID: "sess-3", AgentID: "agent-a", State: "running"}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendOutput(ctx, "sess-3", "persisted before restart", 0); err != nil {
		t.Fatal(err)
	}

	tail, err := mux.getOutputTail(ctx, "sess-3")
	if err != nil {
		t.Fatal(err)
	}
	if tail != "persisted before restart" {
		t.Fatalf("got %q, want %q", tail, "persisted before restart")
	}
}

// TestRemoveOutputBufferStopsPendingFlush checks that closing a session
// discards its buffer instead of leaving a stray timer around.
func TestRemoveOutputBufferStopsPendingFlush(t *testing.T) {
	mux, _, _ := newTestMultiplexer(t)
	mux.appendOutput("sess-4", "scratch")
	mux.removeOutputBuffer("sess-4")

	mux.outputMu.Lock()
	_, ok := mux.outputs["sess-4"]
	mux.outputMu.Unlock()
	if ok {
		t.Fatal("expected buffer to be removed")
	}
}
