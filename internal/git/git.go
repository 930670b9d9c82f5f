// Package git shells out to the git CLI for the worktree operations
// workspace provisioning depends on.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// WorktreeInfo holds parsed worktree metadata from
// `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	HEAD   string
}

// Client defines the git operations used to provision and reclaim
// per-session worktrees. All methods take a path since warden operates on
// multiple repositories.
type Client interface {
	// WorktreeAdd creates a worktree at path on a new branch, optionally
	// forked from base.
	WorktreeAdd(ctx context.Context, repoPath, branch, path, base string) error

	// WorktreeList returns the worktrees registered on the repository at
	// repoPath.
	WorktreeList(ctx context.Context, repoPath string) ([]WorktreeInfo, error)

	// WorktreeRemove detaches and deletes the worktree at path. It refuses
	// paths that are not registered worktrees of their repository.
	WorktreeRemove(ctx context.Context, path string) error
}

// CLIClient implements Client using the git executable.
type CLIClient struct{}

// NewClient returns a new CLIClient.
func NewClient() *CLIClient {
	return &CLIClient{}
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CLIClient) WorktreeAdd(ctx context.Context, repoPath, branch, path, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := gitCmd(ctx, repoPath, args...)
	return err
}

func (c *CLIClient) WorktreeList(ctx context.Context, repoPath string) ([]WorktreeInfo, error) {
	out, err := gitCmd(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(out), nil
}

func (c *CLIClient) WorktreeRemove(ctx context.Context, path string) error {
	// The worktree's common dir is the main repository's .git.
	commonDir, err := gitCmd(ctx, path, "rev-parse", "--git-common-dir")
	if err != nil {
		return err
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(path, commonDir)
	}
	repoPath := filepath.Dir(commonDir)

	worktrees, err := c.WorktreeList(ctx, repoPath)
	if err != nil {
		return err
	}
	registered := false
	for _, wt := range worktrees {
		if wt.Path == path {
			registered = true
			break
		}
	}
	if !registered {
		return fmt.Errorf("%s is not a worktree of %s", path, repoPath)
	}

	_, err = gitCmd(ctx, repoPath, "worktree", "remove", "--force", path)
	return err
}

// ParseWorktreeListPorcelain parses `git worktree list --porcelain` output.
func ParseWorktreeListPorcelain(out string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current *WorktreeInfo
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && current != nil:
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}
