package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// processTree is the platform hook that lets the supervisor terminate the
// child together with everything it spawned.
type processTree interface {
	// prepare configures cmd before Start.
	prepare(cmd *exec.Cmd)
	// attach binds the tree to the started process.
	attach(p *os.Process) error
	// kill forcibly terminates every process in the tree, waiting up to
	// grace for them to go away.
	kill(grace time.Duration) error
	release()
}

// newTree is replaced in tests.
var newTree = newProcessTree

// Supervisor runs a staged payload under a timeout.
type Supervisor struct {
	Policy Policy
	Logger *slog.Logger
}

// NewSupervisor creates a supervisor with the given policy.
func NewSupervisor(policy Policy, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{Policy: policy, Logger: logger}
}

// Run executes the workspace entrypoint and blocks until the process has
// exited or has been killed for exceeding timeout. When Run returns no
// process from the run's process tree is left running.
//
// A non-nil error is always a *SpawnError; non-zero exits and timeouts are
// reported through the result's Outcome.
func (s *Supervisor) Run(ctx context.Context, ws *Workspace, timeout time.Duration) (*RunResult, error) {
	if len(s.Policy.Command) == 0 {
		return nil, &SpawnError{Err: errors.New("no command configured")}
	}
	name, args := s.Policy.argv(ws.Entrypoint)

	cmd := exec.Command(name, args...)
	cmd.Dir = ws.Root
	cmd.Env = s.Policy.environ()

	// Pipes are created by hand so that Wait does not block on descendants
	// that inherited the write ends.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, &SpawnError{Command: name, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	tree := newTree()
	tree.prepare(cmd)
	defer tree.release()

	start := time.Now()
	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, &SpawnError{Command: name, Err: err}
	}
	attached := true
	if err := tree.attach(cmd.Process); err != nil {
		attached = false
		s.Logger.WarnContext(ctx, "process tree attach failed", "pid", cmd.Process.Pid, "error", err)
	}

	var stdout, stderr syncBuffer
	var drains sync.WaitGroup
	drains.Add(2)
	go drain(&drains, &stdout, outR)
	go drain(&drains, &stderr, errR)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	res := &RunResult{}
	select {
	case waitErr := <-exited:
		res.ExitCode = exitCode(cmd.ProcessState, waitErr)
		res.Outcome = OutcomeOK
		if waitErr != nil || res.ExitCode != 0 {
			res.Outcome = OutcomeError
		}
		// Reap anything the payload left running in the background. Without
		// a tree there is nothing left to reach.
		if attached {
			if err := tree.kill(s.Policy.DrainTimeout); err != nil {
				s.Logger.WarnContext(ctx, "killing leftover processes failed", "pid", cmd.Process.Pid, "error", err)
			}
		}

	case <-timer.C:
		s.Logger.InfoContext(ctx, "execution timed out, killing process tree",
			"pid", cmd.Process.Pid, "timeout", timeout)
		if err := tree.kill(s.Policy.DrainTimeout); err != nil {
			s.Logger.WarnContext(ctx, "process tree kill failed, killing child", "pid", cmd.Process.Pid, "error", err)
			cmd.Process.Kill()
		}
		<-exited
		res.Outcome = OutcomeTimeout
		res.ExitCode = NoExitCode
	}

	if !waitTimeout(&drains, s.Policy.DrainTimeout) {
		s.Logger.WarnContext(ctx, "output still open after drain window", "pid", cmd.Process.Pid)
	}
	outR.Close()
	errR.Close()
	drains.Wait()

	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if res.Outcome == OutcomeTimeout {
		res.Stdout += TimeoutMarker
		res.Stderr += TimeoutMarker
	}
	return res, nil
}

func drain(wg *sync.WaitGroup, dst io.Writer, src io.Reader) {
	defer wg.Done()
	io.Copy(dst, src)
}

// waitTimeout reports whether wg finished within d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

func exitCode(state *os.ProcessState, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if state != nil {
		return state.ExitCode()
	}
	return NoExitCode
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
