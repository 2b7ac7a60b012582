// Package sandbox stages per-request workspaces and runs payloads in them as
// supervised child processes.
//
// Isolation here is limited to a private working directory and a dedicated
// process group (a job object on Windows). It is not a security boundary: the
// service is expected to run inside a container or VM that provides one.
//
// Killed grandchildren are reparented to PID 1. Run execd under an init that
// reaps them; on Linux the supervisor ignores such zombies when waiting for a
// group to die, elsewhere it waits out the drain window for them.
package sandbox

import (
	"fmt"
	"time"
)

// Outcome classifies how an execution concluded.
type Outcome string

const (
	OutcomeOK           Outcome = "OUTCOME_OK"
	OutcomeError        Outcome = "OUTCOME_ERROR"
	OutcomeTimeout      Outcome = "OUTCOME_TIMEOUT"
	OutcomeSpawnFailure Outcome = "OUTCOME_SPAWN_FAILURE"
)

// NoExitCode is reported when the process never produced an exit status.
const NoExitCode = -1

// TimeoutMarker is appended to both output streams of a killed process.
const TimeoutMarker = "\n[Process terminated due to timeout]"

// FileInput is an auxiliary file written into the workspace before the run.
type FileInput struct {
	Path    string `json:"path" yaml:"path"`
	Content string `json:"content" yaml:"content"`
}

// RunResult is the output of a supervised execution.
type RunResult struct {
	Outcome  Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// WorkspaceError reports a failure to prepare the workspace.
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("workspace %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error { return e.Err }

// SpawnError reports that the child process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SpawnFailure builds the result reported when no process could be run,
// either because staging failed or because the process did not start.
func SpawnFailure(msg string, err error) *RunResult {
	return &RunResult{
		Outcome:  OutcomeSpawnFailure,
		ExitCode: NoExitCode,
		Stderr:   fmt.Sprintf("%s: %v", msg, err),
	}
}
