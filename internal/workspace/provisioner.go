// Package workspace provisions per-session working directories.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/git"
	"github.com/wardenhq/warden/internal/models"
)

// Provisioner creates and reclaims the directory an agent session works in.
type Provisioner interface {
	Create(ctx context.Context, issue models.IssueContext, repo models.RepositoryConfig) (models.Workspace, error)

	// Remove deletes a workspace created by Create. Reclaiming a workspace
	// that is already gone is not an error.
	Remove(ctx context.Context, ws models.Workspace) error
}

// GitWorktree provisions isolated git worktrees under the repository's
// configured workspace base directory.
type GitWorktree struct {
	git    git.Client
	logger *slog.Logger
}

// NewGitWorktree creates a git-worktree provisioner.
func NewGitWorktree(logger *slog.Logger) *GitWorktree {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitWorktree{git: git.NewClient(), logger: logger}
}

// Create adds a worktree named after the issue identifier, suffixed for
// uniqueness so repeated runs on the same issue never collide. Falls back
// to a plain directory when the repository is not a git checkout.
func (g *GitWorktree) Create(ctx context.Context, issue models.IssueContext, repo models.RepositoryConfig) (models.Workspace, error) {
	name := strings.ToLower(issue.IssueIdentifier)
	if name == "" {
		name = "session"
	}
	name = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])

	baseDir := repo.WorkspaceBaseDir
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "warden-workspaces")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return models.Workspace{}, fmt.Errorf("create workspace base dir: %w", err)
	}
	path := filepath.Join(baseDir, name)

	branch := "warden/" + name
	if err := g.git.WorktreeAdd(ctx, repo.RepositoryPath, branch, path, repo.BaseBranch); err != nil {
		g.logger.Warn("git worktree add failed, using plain directory",
			"repository", repo.Name, "error", err)
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return models.Workspace{}, fmt.Errorf("create workspace dir: %w", mkErr)
		}
		return models.Workspace{Path: path, IsGitWorktree: false}, nil
	}

	if repo.SetupScript != "" {
		g.runSetupScript(ctx, repo.SetupScript, path)
	}
	return models.Workspace{Path: path, IsGitWorktree: true}, nil
}

// Remove detaches the worktree (or deletes the plain directory) a retired
// session worked in.
func (g *GitWorktree) Remove(ctx context.Context, ws models.Workspace) error {
	if ws.Path == "" {
		return nil
	}
	if _, err := os.Stat(ws.Path); os.IsNotExist(err) {
		return nil
	}
	if ws.IsGitWorktree {
		err := g.git.WorktreeRemove(ctx, ws.Path)
		if err == nil {
			return nil
		}
		g.logger.Warn("git worktree remove failed, deleting directory",
			"path", ws.Path, "error", err)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("remove workspace dir: %w", err)
	}
	return nil
}

// runSetupScript is best-effort: a failing setup script leaves the
// worktree usable and is only logged.
func (g *GitWorktree) runSetupScript(ctx context.Context, script, dir string) {
	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		g.logger.Warn("workspace setup script failed",
			"script", script, "error", err, "output", strings.TrimSpace(string(output)))
	}
}
