package execution

import (
	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/sandbox"
)

// Assemble merges a run and its artifacts into a Result. A nil run is
// treated as a spawn failure with no output.
func Assemble(language, code string, run *sandbox.RunResult, arts []artifact.Artifact) *Result {
	if run == nil {
		run = &sandbox.RunResult{Outcome: sandbox.OutcomeSpawnFailure, ExitCode: sandbox.NoExitCode}
	}
	if arts == nil {
		arts = []artifact.Artifact{}
	}
	return &Result{
		Language:  language,
		Code:      code,
		Outcome:   run.Outcome,
		ExitCode:  run.ExitCode,
		Stdout:    run.Stdout,
		Stderr:    run.Stderr,
		Artifacts: arts,
		Duration:  run.Duration,
	}
}
