package runner

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is the per-workflow shared directory used for cross-stage file
// handoff: persist_to_workspace copies in, attach_workspace copies out.
type Workspace struct {
	dir string
}

// NewWorkspace creates <root>/<execID>, creating the root first if needed.
func NewWorkspace(root, execID string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", root, err)
	}
	dir := filepath.Join(root, execID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Entries lists the absolute paths of the workspace's direct children.
func (w *Workspace) Entries() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", w.dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	return paths, nil
}

// Remove reclaims the workspace directory and everything persisted into it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.dir)
}
