//go:build unix

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func shPolicy(t *testing.T) Policy {
	t.Helper()
	return Policy{
		Command:        []string{"/bin/sh"},
		Entrypoint:     "main.sh",
		WorkspaceDir:   t.TempDir(),
		DefaultTimeout: 10 * time.Second,
		MinTimeout:     time.Second,
		MaxTimeout:     30 * time.Second,
		DrainTimeout:   time.Second,
	}
}

func runScript(t *testing.T, p Policy, files []FileInput, script string, timeout time.Duration) (*RunResult, *Workspace) {
	t.Helper()
	ws, err := NewStager(p).Stage(files, script)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	t.Cleanup(func() { ws.Cleanup() })

	res, err := NewSupervisor(p, nil).Run(context.Background(), ws, timeout)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res, ws
}

// processAlive reports whether pid names a live (non-zombie) process.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err == nil {
		// The state field follows the parenthesised command name.
		i := bytes.LastIndexByte(data, ')')
		return i < 0 || i+2 >= len(data) || data[i+2] != 'Z'
	}
	if _, statErr := os.Stat("/proc/self/stat"); statErr == nil {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

func requireDead(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			unix.Kill(pid, unix.SIGKILL)
			t.Fatalf("process %d still alive after supervisor returned", pid)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func readPID(t *testing.T, ws *Workspace, name string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws.Root, name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parsing pid %q: %v", data, err)
	}
	return pid
}

func TestRunEmptyPayload(t *testing.T) {
	res, _ := runScript(t, shPolicy(t), nil, "", 5*time.Second)

	if res.Outcome != OutcomeOK {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeOK)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "" || res.Stderr != "" {
		t.Errorf("stdout = %q, stderr = %q, want both empty", res.Stdout, res.Stderr)
	}
}

func TestRunCapturesBothStreams(t *testing.T) {
	res, _ := runScript(t, shPolicy(t), nil, "echo out\necho err >&2\n", 5*time.Second)

	if res.Stdout != "out\n" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("stderr = %q, want %q", res.Stderr, "err\n")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res, _ := runScript(t, shPolicy(t), nil, "echo oops >&2\nexit 3\n", 5*time.Second)

	if res.Outcome != OutcomeError {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeError)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunWorkingDirectoryIsWorkspace(t *testing.T) {
	res, _ := runScript(t, shPolicy(t),
		[]FileInput{{Path: "data/in.txt", Content: "hello"}},
		"cat data/in.txt\n", 5*time.Second)

	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %s, stderr = %q", res.Outcome, res.Stderr)
	}
	if res.Stdout != "hello" {
		t.Errorf("stdout = %q, want %q", res.Stdout, "hello")
	}
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	// Both streams exceed a pipe buffer many times over.
	script := "yes out | head -n 50000\nyes err | head -n 50000 >&2\n"
	res, _ := runScript(t, shPolicy(t), nil, script, 20*time.Second)

	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %s, stderr tail = %q", res.Outcome, tail(res.Stderr))
	}
	if len(res.Stdout) != 50000*4 {
		t.Errorf("stdout length = %d, want %d", len(res.Stdout), 50000*4)
	}
	if len(res.Stderr) != 50000*4 {
		t.Errorf("stderr length = %d, want %d", len(res.Stderr), 50000*4)
	}
}

func TestRunTimeoutKillsProcessTree(t *testing.T) {
	script := "sleep 30 &\necho $! > child.pid\necho started\nsleep 30\n"

	start := time.Now()
	res, ws := runScript(t, shPolicy(t), nil, script, 500*time.Millisecond)
	elapsed := time.Since(start)

	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %s, want %s", res.Outcome, OutcomeTimeout)
	}
	if res.ExitCode != NoExitCode {
		t.Errorf("exit code = %d, want %d", res.ExitCode, NoExitCode)
	}
	if !strings.HasPrefix(res.Stdout, "started\n") {
		t.Errorf("stdout = %q, want buffered output kept", res.Stdout)
	}
	if !strings.HasSuffix(res.Stdout, TimeoutMarker) || !strings.HasSuffix(res.Stderr, TimeoutMarker) {
		t.Errorf("missing timeout marker: stdout = %q, stderr = %q", res.Stdout, res.Stderr)
	}
	if elapsed > 10*time.Second {
		t.Errorf("Run took %v", elapsed)
	}

	requireDead(t, readPID(t, ws, "child.pid"))
}

func TestRunTimeoutWithSilentPayload(t *testing.T) {
	res, _ := runScript(t, shPolicy(t), nil, "sleep 30\n", 300*time.Millisecond)

	if res.Outcome != OutcomeTimeout {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Stdout != TimeoutMarker || res.Stderr != TimeoutMarker {
		t.Errorf("stdout = %q, stderr = %q, want marker only", res.Stdout, res.Stderr)
	}
}

func TestRunKillsLeftoverProcessesOnExit(t *testing.T) {
	script := "sleep 30 &\necho $! > child.pid\nexit 0\n"

	start := time.Now()
	res, ws := runScript(t, shPolicy(t), nil, script, 20*time.Second)

	if res.Outcome != OutcomeOK {
		t.Fatalf("outcome = %s, stderr = %q", res.Outcome, res.Stderr)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Run waited on the background process")
	}

	requireDead(t, readPID(t, ws, "child.pid"))
}

// detachedTree is a process tree whose attach always fails.
type detachedTree struct {
	kills int
}

func (d *detachedTree) prepare(cmd *exec.Cmd) {}
func (d *detachedTree) attach(p *os.Process) error { return errors.New("attach refused") }
func (d *detachedTree) release() {}

func (d *detachedTree) kill(time.Duration) error {
	d.kills++
	return errors.New("no tree to kill")
}

func withDetachedTree(t *testing.T) *detachedTree {
	t.Helper()
	d := &detachedTree{}
	orig := newTree
	newTree = func() processTree { return d }
	t.Cleanup(func() { newTree = orig })
	return d
}

func TestRunWithoutTreeSkipsLeftoverKill(t *testing.T) {
	d := withDetachedTree(t)

	res, _ := runScript(t, shPolicy(t), nil, "echo hi\n", 5*time.Second)
	if res.Outcome != OutcomeOK || res.Stdout != "hi\n" {
		t.Errorf("outcome = %s, stdout = %q", res.Outcome, res.Stdout)
	}
	if d.kills != 0 {
		t.Errorf("tree kill called %d times after a normal exit", d.kills)
	}
}

func TestRunWithoutTreeStillTimesOut(t *testing.T) {
	d := withDetachedTree(t)

	start := time.Now()
	res, _ := runScript(t, shPolicy(t), nil, "exec sleep 30\n", time.Second)
	if res.Outcome != OutcomeTimeout || res.ExitCode != NoExitCode {
		t.Errorf("outcome = %s/%d, want TIMEOUT/-1", res.Outcome, res.ExitCode)
	}
	if d.kills != 1 {
		t.Errorf("tree kill called %d times, want 1", d.kills)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v", elapsed)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	p := shPolicy(t)
	p.Command = []string{"/nonexistent/interpreter"}

	ws, err := NewStager(p).Stage(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Cleanup()

	res, err := NewSupervisor(p, nil).Run(context.Background(), ws, time.Second)
	if err == nil {
		t.Fatalf("expected spawn error, got result %+v", res)
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error %T is not *SpawnError", err)
	}

	failed := SpawnFailure("Failed to start process", err)
	if failed.Outcome != OutcomeSpawnFailure || failed.ExitCode != NoExitCode {
		t.Errorf("SpawnFailure = %+v", failed)
	}
	if !strings.Contains(failed.Stderr, "/nonexistent/interpreter") {
		t.Errorf("stderr = %q, want OS error text", failed.Stderr)
	}
}

func TestRunNoCommand(t *testing.T) {
	p := shPolicy(t)
	p.Command = nil

	ws, err := NewStager(p).Stage(nil, "")
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Cleanup()

	if _, err := NewSupervisor(p, nil).Run(context.Background(), ws, time.Second); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func tail(s string) string {
	if len(s) > 200 {
		return s[len(s)-200:]
	}
	return s
}
