package sandbox

import (
	"os"
	"path/filepath"
	"time"
)

// Policy defines how payloads are launched and how long they may run.
type Policy struct {
	Command      []string          // Interpreter argv; the entrypoint path is appended
	Entrypoint   string            // File name the payload is written to
	Env          map[string]string // Added to the inherited environment
	WorkspaceDir string            // Parent of per-request workspaces ("" = OS temp dir)

	DefaultTimeout time.Duration
	MinTimeout     time.Duration
	MaxTimeout     time.Duration
	DrainTimeout   time.Duration // Output drain window after exit or kill
}

// DefaultPolicy returns the defaults used by the service.
func DefaultPolicy() Policy {
	return Policy{
		Command:        []string{"python3", "-S"},
		Entrypoint:     "main.py",
		DefaultTimeout: 10 * time.Second,
		MinTimeout:     time.Second,
		MaxTimeout:     30 * time.Second,
		DrainTimeout:   time.Second,
	}
}

// ClampTimeout converts a caller supplied budget in milliseconds into the
// effective timeout, snapping it into [MinTimeout, MaxTimeout].
// Bounds are compared in milliseconds so huge values cannot overflow.
func (p Policy) ClampTimeout(ms int) time.Duration {
	if int64(ms) <= p.MinTimeout.Milliseconds() {
		return p.MinTimeout
	}
	if int64(ms) >= p.MaxTimeout.Milliseconds() {
		return p.MaxTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func (p Policy) argv(entrypoint string) (string, []string) {
	args := append([]string{}, p.Command[1:]...)
	return p.Command[0], append(args, entrypoint)
}

func (p Policy) environ() []string {
	env := os.Environ()
	for k, v := range p.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func (p Policy) entrypoint() string {
	if p.Entrypoint == "" {
		return "main.py"
	}
	return filepath.Clean(p.Entrypoint)
}
