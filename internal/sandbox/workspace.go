package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a private directory that roots one execution.
type Workspace struct {
	Root       string
	Entrypoint string // Absolute path of the payload file
}

// Stager materializes workspaces.
type Stager struct {
	Policy Policy
}

// NewStager creates a stager with the given policy.
func NewStager(policy Policy) *Stager {
	return &Stager{Policy: policy}
}

// Stage creates a workspace holding files and the payload. On failure the
// partial directory is removed before returning. On success the caller owns
// the workspace and must call Cleanup.
func (s *Stager) Stage(files []FileInput, code string) (_ *Workspace, err error) {
	if s.Policy.WorkspaceDir != "" {
		if err := os.MkdirAll(s.Policy.WorkspaceDir, 0o755); err != nil {
			return nil, &WorkspaceError{Op: "mkdir", Path: s.Policy.WorkspaceDir, Err: err}
		}
	}

	root, err := os.MkdirTemp(s.Policy.WorkspaceDir, "execd-*")
	if err != nil {
		return nil, &WorkspaceError{Op: "create", Err: err}
	}
	ws := &Workspace{Root: root}
	defer func() {
		if err != nil {
			ws.Cleanup()
		}
	}()

	for _, f := range files {
		if err := ws.writeFile(f.Path, f.Content); err != nil {
			return nil, err
		}
	}

	// Written last so the payload wins over an input file with the same name.
	entry := s.Policy.entrypoint()
	if err := ws.writeFile(entry, code); err != nil {
		return nil, err
	}
	ws.Entrypoint = filepath.Join(root, entry)

	return ws, nil
}

// Resolve maps a workspace-relative path to an absolute path inside Root.
func (w *Workspace) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", &WorkspaceError{Op: "resolve", Err: errors.New("empty path")}
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", &WorkspaceError{Op: "resolve", Path: rel, Err: errors.New("path escapes workspace root")}
	}
	return filepath.Join(w.Root, local), nil
}

func (w *Workspace) writeFile(rel, content string) error {
	full, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &WorkspaceError{Op: "mkdir", Path: rel, Err: err}
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &WorkspaceError{Op: "write", Path: rel, Err: err}
	}
	return nil
}

// Cleanup removes the workspace and everything under it.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Root == "" {
		return nil
	}
	return os.RemoveAll(w.Root)
}
