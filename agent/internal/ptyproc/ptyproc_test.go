package ptyproc

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func collectOutput() (func(string, []byte), func() []byte) {
	var mu sync.Mutex
	var buf bytes.Buffer
	onOutput := func(sessionID string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		buf.Write(data)
	}
	snapshot := func() []byte {
		mu.Lock()
		defer mu.Unlock()
		return append([]byte(nil), buf.Bytes()...)
	}
	return onOutput, snapshot
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestProc_LazySpawnOnWrite(t *testing.T) {
	onOutput, snapshot := collectOutput()
	var exitCode int
	var exited bool
	p := New("s1", SpawnPolicy{Shell: "/bin/sh"}, false, onOutput, func(sid string, state State, ec int) {
		exited = true
		exitCode = ec
	})

	if p.State() != StateNone {
		t.Fatalf("expected StateNone before spawn")
	}
	if err := p.Write([]byte("echo hello\n"), 80, 24); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if p.State() != StateRunning {
		t.Fatalf("expected StateRunning after Write")
	}

	waitFor(t, 2*time.Second, func() bool {
		return bytes.Contains(snapshot(), []byte("hello"))
	})

	p.Kill()
	_ = exited
	_ = exitCode
}

func TestProc_KillIsTerminal(t *testing.T) {
	onOutput, _ := collectOutput()
	p := New("s1", SpawnPolicy{Shell: "/bin/sh"}, true, onOutput, func(sid string, state State, ec int) {})

	if err := p.Write([]byte("\n"), 80, 24); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.Kill()

	waitFor(t, 2*time.Second, func() bool {
		return p.State() == StateKilled
	})

	if err := p.EnsureRunning(80, 24); err == nil {
		t.Fatal("expected error resuming a killed PTY")
	}
}

func TestProc_ExitTriggersRespawnWithBanner(t *testing.T) {
	onOutput, snapshot := collectOutput()
	exitSeen := make(chan int, 1)
	p := New("s1", SpawnPolicy{Shell: "/bin/sh"}, true, onOutput, func(sid string, state State, ec int) {
		exitSeen <- ec
	})

	if err := p.Write([]byte("exit 3\n"), 80, 24); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case ec := <-exitSeen:
		if ec != 3 {
			t.Errorf("exit code = %d, want 3", ec)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}

	waitFor(t, 2*time.Second, func() bool {
		return bytes.Contains(snapshot(), []byte("respawning shell"))
	})

	waitFor(t, 2*time.Second, func() bool {
		return p.State() == StateRunning
	})

	p.Kill()
}

func TestProc_ResizeWithoutPriorWriteSpawnsPTY(t *testing.T) {
	onOutput, _ := collectOutput()
	p := New("s1", SpawnPolicy{Shell: "/bin/sh"}, false, onOutput, func(sid string, state State, ec int) {})

	if err := p.Resize(100, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if p.State() != StateRunning {
		t.Fatalf("expected Resize to lazily spawn the PTY")
	}
	p.Kill()
}
