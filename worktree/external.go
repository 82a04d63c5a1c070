package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/c360studio/agentboard/config"
)

// ExternalProvider delegates worktree creation to an operator-supplied
// command template, for setups where checkouts need extra provisioning
// (credentials, sparse checkout, LFS). Reset and merge still go through
// the native git provider: the external hook only owns creation.
type ExternalProvider struct {
	cfg    config.WorktreeConfig
	logger *slog.Logger
	git    *GitProvider
}

// NewExternalProvider creates the external-command provider.
func NewExternalProvider(cfg config.WorktreeConfig, logger *slog.Logger) *ExternalProvider {
	return &ExternalProvider{
		cfg:    cfg,
		logger: logger,
		git:    NewGitProvider(cfg, logger),
	}
}

// expand substitutes the {repo} {path} {branch} placeholders.
func expand(template, repo, path, branch string) string {
	r := strings.NewReplacer(
		"{repo}", repo,
		"{path}", path,
		"{branch}", branch,
	)
	return r.Replace(template)
}

// Ensure runs the external command to create the checkout. When the
// command fails the native git provider is tried as a fallback so a bad
// hook never strands the pool.
func (p *ExternalProvider) Ensure(ctx context.Context, repo, workerID string) (string, error) {
	path := Path(repo, workerID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	cmdline := expand(p.cfg.ExternalCommand, repo, path, WorkerBranch(workerID))
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = repo
	output, err := cmd.CombinedOutput()
	if err != nil {
		p.logger.Warn("External worktree command failed, falling back to git",
			"worker_id", workerID, "error", err, "output", strings.TrimSpace(string(output)))
		return p.git.Ensure(ctx, repo, workerID)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("external worktree command did not create %s", path)
	}
	p.logger.Info("Created worker worktree via external command", "worker_id", workerID, "path", path)
	return path, nil
}

// Prepare defers to the git provider after ensuring the checkout exists.
func (p *ExternalProvider) Prepare(ctx context.Context, repo, workerID, taskID string) error {
	if _, err := p.Ensure(ctx, repo, workerID); err != nil {
		return err
	}
	return p.git.Prepare(ctx, repo, workerID, taskID)
}

// Merge defers to the git provider.
func (p *ExternalProvider) Merge(ctx context.Context, repo, workerID, taskID string) (MergeOutcome, error) {
	return p.git.Merge(ctx, repo, workerID, taskID)
}
