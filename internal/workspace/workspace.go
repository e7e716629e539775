package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

// Manager handles per-build workspace directories under a single root.
type Manager struct {
	root string
}

// NewManager creates a manager rooted at root. An empty root uses the system
// temp directory.
func NewManager(root string) *Manager {
	if root == "" {
		root = filepath.Join(os.TempDir(), "webship-workspaces")
	}
	return &Manager{root: root}
}

// Root returns the directory holding all build workspaces.
func (m *Manager) Root() string { return m.root }

// Path returns the workspace path for a build without creating it.
func (m *Manager) Path(buildID string) (string, error) {
	if err := checkID(buildID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, buildID), nil
}

// Create allocates an empty workspace for the build, replacing any leftovers.
func (m *Manager) Create(buildID string) (string, error) {
	dir, err := m.Path(buildID)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(dir); err != nil {
		return "", fsError(err, "failed to clear stale workspace", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fsError(err, "failed to create workspace directory", dir)
	}
	slog.Debug("Created workspace", logfields.BuildID(buildID), logfields.Path(dir))
	return dir, nil
}

// Remove deletes the build's workspace. Removing a missing workspace is not an error.
func (m *Manager) Remove(buildID string) error {
	dir, err := m.Path(buildID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fsError(err, "failed to cleanup workspace", dir)
	}
	slog.Debug("Cleaned up workspace", logfields.BuildID(buildID), logfields.Path(dir))
	return nil
}

// Sweep removes every workspace whose build id is not kept. A nil keep
// removes all of them. It returns the removed build ids.
func (m *Manager) Sweep(keep func(buildID string) bool) ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fsError(err, "failed to list workspaces", m.root)
	}
	var removed []string
	var errs []error
	for _, e := range entries {
		id := e.Name()
		if keep != nil && keep(id) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, id)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		slog.Info("Swept stale workspaces", slog.Int("count", len(removed)), logfields.Path(m.root))
	}
	if len(errs) > 0 {
		return removed, errors.FileSystemError("workspace sweep incomplete").
			Warning().
			WithCause(fmt.Errorf("%d workspaces could not be removed: %w", len(errs), errs[0])).
			WithContext("path", m.root).
			Build()
	}
	return removed, nil
}

func checkID(buildID string) error {
	if buildID == "" || buildID == "." || buildID == ".." || strings.ContainsAny(buildID, `/\`) {
		return errors.ValidationError("invalid build id for workspace").
			WithContext("build_id", buildID).
			Build()
	}
	return nil
}

func fsError(err error, msg, path string) error {
	return errors.FileSystemError(msg).WithCause(err).WithContext("path", path).Build()
}
