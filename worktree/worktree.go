// Package worktree manages per-worker git worktrees: one isolated
// checkout per pool slot, reset to mainline before each task, with
// completed work merged back on a task branch.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/c360studio/agentboard/config"
)

// WorktreesDir is the directory under the project repo holding the
// per-worker checkouts.
const WorktreesDir = ".agent-worktrees"

// MergeOutcome reports what happened when task work was merged back.
type MergeOutcome struct {
	Merged bool
	// Conflict is set when the merge was aborted on conflicts. The task
	// itself still counts as completed; the conflict surfaces as a
	// warning event for a human to resolve.
	Conflict bool
	Detail   string
}

// Provider prepares and integrates per-worker checkouts.
type Provider interface {
	// Ensure creates the worker's checkout if missing and returns its path.
	Ensure(ctx context.Context, repo, workerID string) (string, error)
	// Prepare resets the checkout to mainline and opens a task branch.
	Prepare(ctx context.Context, repo, workerID, taskID string) error
	// Merge integrates the task branch into mainline.
	Merge(ctx context.Context, repo, workerID, taskID string) (MergeOutcome, error)
}

// WorkerBranch is the long-lived branch name of a pool slot's checkout.
func WorkerBranch(workerID string) string {
	return "worker/" + workerID
}

// TaskBranch is the branch a single task's work happens on.
func TaskBranch(taskID string) string {
	return "task/" + taskID
}

// Path returns the checkout path for a worker inside a repo.
func Path(repo, workerID string) string {
	return filepath.Join(repo, WorktreesDir, workerID)
}

// ValidateRepo checks that a project repo path is usable for worktrees:
// absolute, existing, and a git work tree.
func ValidateRepo(repo string) error {
	if repo == "" {
		return fmt.Errorf("repo path is required")
	}
	if !filepath.IsAbs(repo) {
		return fmt.Errorf("repo path must be absolute: %s", repo)
	}
	info, err := os.Stat(repo)
	if err != nil {
		return fmt.Errorf("repo path not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repo path is not a directory: %s", repo)
	}
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repo
	out, err := cmd.CombinedOutput()
	if err != nil || strings.TrimSpace(string(out)) != "true" {
		return fmt.Errorf("repo path is not a git work tree: %s", repo)
	}
	return nil
}

// NewProvider selects the provider from configuration. "auto" picks the
// external provider when a command template is set, git otherwise.
func NewProvider(cfg config.WorktreeConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "git":
		return NewGitProvider(cfg, logger), nil
	case "external":
		if cfg.ExternalCommand == "" {
			return nil, fmt.Errorf("worktree provider external requires a command template")
		}
		return NewExternalProvider(cfg, logger), nil
	case "auto", "":
		if cfg.ExternalCommand != "" {
			return NewExternalProvider(cfg, logger), nil
		}
		return NewGitProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown worktree provider %q", cfg.Provider)
	}
}
