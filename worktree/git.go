package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/c360studio/agentboard/config"
)

// GitProvider drives `git worktree` directly against the project repo.
type GitProvider struct {
	cfg    config.WorktreeConfig
	logger *slog.Logger
}

// NewGitProvider creates the native git provider.
func NewGitProvider(cfg config.WorktreeConfig, logger *slog.Logger) *GitProvider {
	return &GitProvider{cfg: cfg, logger: logger}
}

// runGit executes a git command in dir with a deadline.
func runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Ensure creates the worker's worktree on its long-lived branch if it
// does not already exist.
func (p *GitProvider) Ensure(ctx context.Context, repo, workerID string) (string, error) {
	path := Path(repo, workerID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	branch := WorkerBranch(workerID)
	if err := os.MkdirAll(Path(repo, ""), 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}
	// -B so a stale branch from a previous install is reused, not fatal.
	_, err := runGit(ctx, repo, p.cfg.ResetTimeout, "worktree", "add", "-B", branch, path, p.cfg.Mainline)
	if err != nil {
		return "", fmt.Errorf("add worktree for %s: %w", workerID, err)
	}
	p.logger.Info("Created worker worktree", "worker_id", workerID, "path", path)
	return path, nil
}

// Prepare brings the worker's checkout to a clean task start: best-effort
// fetch, hard reset to mainline, then a fresh task branch.
func (p *GitProvider) Prepare(ctx context.Context, repo, workerID, taskID string) error {
	path, err := p.Ensure(ctx, repo, workerID)
	if err != nil {
		return err
	}

	// Fetch is best-effort: offline repos still work against local refs.
	if _, err := runGit(ctx, path, p.cfg.FetchTimeout, "fetch", "origin"); err != nil {
		p.logger.Debug("Fetch before task skipped", "worker_id", workerID, "error", err)
	}

	base := p.mainlineRef(ctx, path)
	if _, err := runGit(ctx, path, p.cfg.ResetTimeout, "reset", "--hard", base); err != nil {
		return fmt.Errorf("reset worktree to %s: %w", base, err)
	}
	if _, err := runGit(ctx, path, p.cfg.ResetTimeout, "clean", "-fd"); err != nil {
		p.logger.Debug("Worktree clean failed", "worker_id", workerID, "error", err)
	}
	if _, err := runGit(ctx, path, p.cfg.ResetTimeout, "checkout", "-B", TaskBranch(taskID)); err != nil {
		return fmt.Errorf("open task branch: %w", err)
	}
	return nil
}

// mainlineRef prefers the remote-tracking mainline when it exists.
func (p *GitProvider) mainlineRef(ctx context.Context, dir string) string {
	remote := "origin/" + p.cfg.Mainline
	if _, err := runGit(ctx, dir, p.cfg.ResetTimeout, "rev-parse", "--verify", "--quiet", remote); err == nil {
		return remote
	}
	return p.cfg.Mainline
}

// Merge integrates the task branch into mainline with a merge commit.
// A conflicted merge is aborted and reported, never left half-done.
func (p *GitProvider) Merge(ctx context.Context, repo, workerID, taskID string) (MergeOutcome, error) {
	branch := TaskBranch(taskID)
	if _, err := runGit(ctx, repo, p.cfg.MergeTimeout, "rev-parse", "--verify", "--quiet", branch); err != nil {
		return MergeOutcome{Detail: "task branch missing, nothing to merge"}, nil
	}
	if _, err := runGit(ctx, repo, p.cfg.ResetTimeout, "checkout", p.cfg.Mainline); err != nil {
		return MergeOutcome{}, fmt.Errorf("checkout mainline: %w", err)
	}
	out, err := runGit(ctx, repo, p.cfg.MergeTimeout, "merge", "--no-ff", branch,
		"-m", fmt.Sprintf("Merge %s (%s)", branch, taskID))
	if err != nil {
		if _, abortErr := runGit(ctx, repo, p.cfg.ResetTimeout, "merge", "--abort"); abortErr != nil {
			p.logger.Warn("Merge abort failed", "task_id", taskID, "error", abortErr)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return MergeOutcome{Conflict: true, Detail: "merge timed out"}, nil
		}
		return MergeOutcome{Conflict: true, Detail: strings.TrimSpace(out)}, nil
	}
	return MergeOutcome{Merged: true, Detail: strings.TrimSpace(out)}, nil
}
