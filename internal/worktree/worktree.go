package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Manager handles git worktree operations. Each worker slot gets one stable
// worktree so agents can edit the same repository concurrently without
// interference.
type Manager struct {
	repoDir     string
	worktreeDir string
}

// NewManager creates a new Manager
func NewManager(repoDir, worktreeDir string) *Manager {
	return &Manager{
		repoDir:     repoDir,
		worktreeDir: worktreeDir,
	}
}

// Path returns the worktree location for a worker slot
func (m *Manager) Path(workerID int) string {
	return filepath.Join(m.worktreeDir, fmt.Sprintf("cc-boss-worker-%d", workerID))
}

// BranchName returns the branch bound to a worker slot
func BranchName(workerID int) string {
	return fmt.Sprintf("cc-boss/worker-%d", workerID)
}

// Ensure returns the worktree path for a worker slot, creating it if needed.
// An existing worktree from a previous run is reused as-is.
func (m *Manager) Ensure(workerID int) (string, error) {
	wtPath := m.Path(workerID)

	if _, err := os.Stat(wtPath); err == nil {
		return wtPath, nil
	}

	if err := os.MkdirAll(m.worktreeDir, 0755); err != nil {
		return "", fmt.Errorf("creating worktree dir: %w", err)
	}

	// Prune stale entries left by removed directories
	pruneCmd := exec.Command("git", "worktree", "prune")
	pruneCmd.Dir = m.repoDir
	pruneCmd.Run()

	branch := BranchName(workerID)

	cmd := exec.Command("git", "worktree", "add", "-b", branch, wtPath, "HEAD")
	cmd.Dir = m.repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		// Branch may survive a deleted worktree; reattach instead
		cmd = exec.Command("git", "worktree", "add", wtPath, branch)
		cmd.Dir = m.repoDir
		if out2, err2 := cmd.CombinedOutput(); err2 != nil {
			return "", fmt.Errorf("git worktree add: %s: %s: %w", out, out2, err2)
		}
	}

	return wtPath, nil
}

// Remove removes a worktree and deletes its branch
func (m *Manager) Remove(wtPath string) error {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = wtPath
	branchOut, _ := cmd.Output()
	branch := strings.TrimSpace(string(branchOut))

	cmd = exec.Command("git", "worktree", "remove", "--force", wtPath)
	cmd.Dir = m.repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree remove: %s: %w", out, err)
	}

	if branch != "" && branch != "HEAD" {
		cmd = exec.Command("git", "branch", "-D", branch)
		cmd.Dir = m.repoDir
		cmd.Run() // Ignore error if branch doesn't exist
	}

	return nil
}

// List returns all worktree paths under the managed directory
func (m *Manager) List() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.repoDir
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			path := strings.TrimPrefix(line, "worktree ")
			if strings.HasPrefix(path, m.worktreeDir) {
				paths = append(paths, path)
			}
		}
	}

	return paths, nil
}
