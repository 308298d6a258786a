// Package ptyproc owns the PTY lifecycle for a single session: spawning the
// shell, streaming its output, applying resizes, and driving the
// auto-respawn state machine.
package ptyproc

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/creack/pty"
)

// State is a PTY's lifecycle state.
type State string

const (
	StateNone    State = "none"
	StateRunning State = "running"
	StateExited  State = "exited"
	StateKilled  State = "killed"
)

const respawnDebounce = 500 * time.Millisecond

// SpawnPolicy decides which shell to launch and as which user.
type SpawnPolicy struct {
	RunAsUser string // explicit override; empty triggers auto-detection
	Shell     string // explicit shell override; empty uses preference order
}

// Proc owns one session's PTY and its respawn behavior.
type Proc struct {
	SessionID string
	policy    SpawnPolicy
	autoRestart bool

	onOutput func(sessionID string, data []byte)
	onExit   func(sessionID string, state State, exitCode int)

	mu        sync.Mutex
	state     State
	pty       *os.File
	cmd       *exec.Cmd
	cols      int
	rows      int
	killed    bool
	respawnAt *time.Timer
}

// New creates a PTY process manager for a session. It does not spawn the
// shell yet — spawning is lazy, triggered by the first Write or Resize.
func New(sessionID string, policy SpawnPolicy, autoRestart bool, onOutput func(string, []byte), onExit func(string, State, int)) *Proc {
	return &Proc{
		SessionID:   sessionID,
		policy:      policy,
		autoRestart: autoRestart,
		onOutput:    onOutput,
		onExit:      onExit,
		state:       StateNone,
	}
}

// State returns the current lifecycle state.
func (p *Proc) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// EnsureRunning spawns the PTY if it hasn't been started yet or if it
// previously exited. A killed PTY is not respawned.
func (p *Proc) EnsureRunning(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateRunning {
		return nil
	}
	if p.state == StateKilled {
		return fmt.Errorf("session %s: PTY was killed, will not respawn", p.SessionID)
	}
	return p.spawnLocked(cols, rows)
}

// Write sends input bytes to the PTY, spawning it first if necessary.
func (p *Proc) Write(data []byte, cols, rows int) error {
	if err := p.EnsureRunning(cols, rows); err != nil {
		return err
	}
	p.mu.Lock()
	f := p.pty
	p.mu.Unlock()
	if f == nil {
		return fmt.Errorf("session %s: no PTY", p.SessionID)
	}
	_, err := f.Write(data)
	return err
}

// Resize applies new dimensions to the running PTY, spawning it first if
// this is the session's first resize.
func (p *Proc) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	if err := p.EnsureRunning(cols, rows); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cols == cols && p.rows == rows {
		return nil
	}
	p.cols, p.rows = cols, rows
	if p.pty == nil {
		return nil
	}
	return pty.Setsize(p.pty, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Kill terminates the PTY permanently; it will never respawn.
func (p *Proc) Kill() {
	p.mu.Lock()
	p.killed = true
	p.state = StateKilled
	if p.respawnAt != nil {
		p.respawnAt.Stop()
	}
	proc := p.cmd
	f := p.pty
	p.mu.Unlock()

	if proc != nil && proc.Process != nil {
		_ = proc.Process.Kill()
	}
	if f != nil {
		_ = f.Close()
	}
}

// spawnLocked starts the shell process. Caller must hold p.mu.
func (p *Proc) spawnLocked(cols, rows int) error {
	shellPath, args, useLoginShell := resolveShell(p.policy)

	cmd := exec.Command(shellPath, args...)
	cmd.Env = buildEnv()

	if useLoginShell {
		if home := homeDirFor(p.policy.RunAsUser); home != "" {
			cmd.Dir = home
		}
	}

	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return fmt.Errorf("spawn shell %s: %w", shellPath, err)
	}

	p.pty = f
	p.cmd = cmd
	p.cols, p.rows = cols, rows
	p.state = StateRunning

	go p.readLoop(f, cmd)
	return nil
}

func (p *Proc) readLoop(f *os.File, cmd *exec.Cmd) {
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			p.onOutput(p.SessionID, cp)
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeOf(waitErr)

	p.mu.Lock()
	wasKilled := p.killed
	if !wasKilled {
		p.state = StateExited
	}
	p.mu.Unlock()

	if wasKilled {
		return
	}

	p.onExit(p.SessionID, StateExited, exitCode)

	if p.autoRestart {
		p.mu.Lock()
		p.respawnAt = time.AfterFunc(respawnDebounce, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.killed {
				return
			}
			banner := respawnBanner(exitCode)
			if err := p.spawnLocked(p.cols, p.rows); err != nil {
				p.onOutput(p.SessionID, []byte(fmt.Sprintf("\r\n[agent] respawn failed: %v\r\n", err)))
				return
			}
			p.onOutput(p.SessionID, []byte(banner))
		})
		p.mu.Unlock()
	}
}

func respawnBanner(exitCode int) string {
	return fmt.Sprintf("\r\n\x1b[33m[session exited with code %d, respawning shell]\x1b[0m\r\n", exitCode)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func buildEnv() []string {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color", "COLORTERM=truecolor", "LANG=en_US.UTF-8", "LC_ALL=en_US.UTF-8")
	return env
}

// resolveShell picks the shell binary and whether to spawn via a login
// mechanism that loads the target user's profile. Auto-detection of a
// target user only applies when running as root — su'ing to another
// account from an unprivileged process would just fail or hang on a
// password prompt, so an unprivileged agent always spawns as itself.
func resolveShell(policy SpawnPolicy) (shellPath string, args []string, loginShell bool) {
	targetUser := policy.RunAsUser
	if targetUser == "" && os.Geteuid() == 0 {
		targetUser = autoDetectUser()
	}

	if targetUser != "" {
		if su, err := exec.LookPath("su"); err == nil {
			return su, []string{"-", targetUser}, true
		}
	}

	if policy.Shell != "" {
		return policy.Shell, []string{"-i"}, false
	}

	for _, candidate := range []string{"zsh", "bash", "sh"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, []string{"-i"}, false
		}
	}
	return "/bin/sh", []string{"-i"}, false
}

// autoDetectUser finds the first non-system local user (uid in [1000,
// 65534), excluding "nobody"). Best-effort: returns "" on any failure,
// which falls back to spawning as the current user.
func autoDetectUser() string {
	f, err := os.Open("/etc/passwd")
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := splitPasswdLine(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		name, uidStr := fields[0], fields[2]
		if name == "nobody" {
			continue
		}
		uid, err := strconv.Atoi(uidStr)
		if err != nil {
			continue
		}
		if uid >= 1000 && uid < 65534 {
			return name
		}
	}
	return ""
}

func splitPasswdLine(line string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			fields = append(fields, line[start:i])
			start = i + 1
		}
	}
	fields = append(fields, line[start:])
	return fields
}

func homeDirFor(username string) string {
	if username == "" {
		return ""
	}
	u, err := user.Lookup(username)
	if err != nil {
		return ""
	}
	return u.HomeDir
}
