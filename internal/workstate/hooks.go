package workstate

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
)

// hookManager persists a per-item snapshot under hooks/<id>/work_item.json,
// optionally attaching a git worktree to the hook directory.
type hookManager struct {
	paths          workspace.Paths
	workspaceRoot  string
	useGitWorktree bool
}

func newHookManager(paths workspace.Paths, workspaceRoot string, useGitWorktree bool) *hookManager {
	return &hookManager{paths: paths, workspaceRoot: workspaceRoot, useGitWorktree: useGitWorktree}
}

// ensure creates the hook directory (and worktree, if configured) and
// writes the current snapshot.
func (h *hookManager) ensure(item *Item) error {
	dir := h.paths.HookDir(item.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return squaderr.IOFailure("mkdir hook dir", err)
	}

	if h.useGitWorktree {
		h.ensureWorktree(dir)
	}

	return h.writeMetadata(item)
}

// writeMetadata refreshes the hook snapshot without touching the worktree.
func (h *hookManager) writeMetadata(item *Item) error {
	dir := h.paths.HookDir(item.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return squaderr.IOFailure("mkdir hook dir", err)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return squaderr.IOFailure("marshal hook snapshot", err)
	}

	return atomicfile.Write(h.paths.HookWorkItem(item.ID), data, 0o644)
}

// remove deletes the hook's metadata file, leaving any worktree contents in
// place (matching the original's "remove metadata without deleting the
// worktree" behavior).
func (h *hookManager) remove(itemID string) error {
	path := h.paths.HookWorkItem(itemID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return squaderr.IOFailure("remove hook metadata", err)
	}
	return nil
}

// list returns the ids of all items with a hook directory.
func (h *hookManager) list() ([]string, error) {
	entries, err := os.ReadDir(h.paths.HooksDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, squaderr.IOFailure("read hooks dir", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// ensureWorktree attaches a git worktree to dir when the workspace is a git
// checkout and dir is not already one. Failures are tolerated: a hook
// without a worktree still holds its metadata snapshot.
func (h *hookManager) ensureWorktree(dir string) {
	if _, err := os.Stat(filepath.Join(h.workspaceRoot, ".git")); err != nil {
		return
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return
	}

	cmd := exec.Command("git", "worktree", "add", dir, "HEAD")
	cmd.Dir = h.workspaceRoot
	_ = cmd.Run()
}
