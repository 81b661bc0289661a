package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a per-item scratch directory holding the downloaded archive and
// its extracted contents. It is owned by exactly one item.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a uniquely named directory below scratchRoot.
func NewWorkspace(scratchRoot string) (*Workspace, error) {
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir := filepath.Join(scratchRoot, "item-"+uuid.NewString())
	// Mkdir, not MkdirAll: an existing directory must be an error.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// ArchivePath is where the download is written.
func (w *Workspace) ArchivePath() string {
	return filepath.Join(w.Dir, "archive")
}

// ExtractDir is where the archive is unpacked.
func (w *Workspace) ExtractDir() string {
	return filepath.Join(w.Dir, "extracted")
}

// Release deletes the workspace. Failures are logged and returned but callers
// treat them as best-effort.
func (w *Workspace) Release(logger *slog.Logger) error {
	if err := os.RemoveAll(w.Dir); err != nil {
		logger.Warn("failed to remove workspace", "dir", w.Dir, "error", err)
		return err
	}
	return nil
}
