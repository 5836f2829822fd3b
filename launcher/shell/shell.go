// Package shell implements the shell WMS launcher adapter (§6): submit runs
// a script as a detached local process, check polls its exit state. It is
// grounded on the teacher's executor.CommandExecutor (os/exec.CommandContext
// over a fixed shell), generalized from a synchronous run-and-capture call
// into an async submit/check pair the way a real WMS launcher behaves.
package shell

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"cm.lsst.io/node"
)

// Launcher runs campaign node scripts as local child processes. It
// satisfies node.Launcher.
type Launcher struct {
	Shell string

	mu    sync.Mutex
	procs map[string]*run
}

type run struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	output []byte
}

// New returns a Launcher that runs each script file with /bin/sh.
func New() *Launcher {
	return &Launcher{Shell: "/bin/sh", procs: make(map[string]*run)}
}

// Submit starts scriptPath as a detached background process and returns an
// opaque submit id immediately; the process's outcome is observed later via
// Check (§6, "submit/check/cancel").
func (l *Launcher) Submit(ctx context.Context, scriptPath string, env map[string]string) (string, error) {
	cmd := exec.Command(l.Shell, scriptPath)
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	r := &run{cmd: cmd, done: make(chan struct{})}
	id := uuid.New().String()

	l.mu.Lock()
	l.procs[id] = r
	l.mu.Unlock()

	go func() {
		out, err := cmd.CombinedOutput()
		r.output = out
		r.err = err
		close(r.done)
	}()

	return id, nil
}

// Check reports whether the process named by submitID has finished, and if
// so whether it exited zero.
func (l *Launcher) Check(ctx context.Context, submitID string) (*node.LaunchStatus, error) {
	l.mu.Lock()
	r, ok := l.procs[submitID]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("shell: unknown submit id %q", submitID)
	}

	select {
	case <-r.done:
	default:
		return &node.LaunchStatus{Running: true}, nil
	}

	if r.err != nil {
		return &node.LaunchStatus{Success: false, Reason: fmt.Sprintf("%v: %s", r.err, r.output)}, nil
	}
	return &node.LaunchStatus{Success: true}, nil
}

// Cancel kills the process named by submitID, if still running.
func (l *Launcher) Cancel(ctx context.Context, submitID string) (bool, error) {
	l.mu.Lock()
	r, ok := l.procs[submitID]
	l.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("shell: unknown submit id %q", submitID)
	}
	select {
	case <-r.done:
		return false, nil
	default:
	}
	if r.cmd.Process == nil {
		return false, nil
	}
	if err := r.cmd.Process.Kill(); err != nil {
		return false, err
	}
	return true, nil
}
