package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseWorktreeListPorcelain(t *testing.T) {
	input := `worktree /srv/backend
HEAD abc123def456
branch refs/heads/main

worktree /tmp/warden-workspaces/eng-42-a1b2c3d4
HEAD def789abc012
branch refs/heads/warden/eng-42-a1b2c3d4

`
	worktrees := ParseWorktreeListPorcelain(input)
	assert.Len(t, worktrees, 2)

	assert.Equal(t, "/srv/backend", worktrees[0].Path)
	assert.Equal(t, "main", worktrees[0].Branch)
	assert.Equal(t, "abc123def456", worktrees[0].HEAD)

	assert.Equal(t, "/tmp/warden-workspaces/eng-42-a1b2c3d4", worktrees[1].Path)
	assert.Equal(t, "warden/eng-42-a1b2c3d4", worktrees[1].Branch)
}

func TestParseWorktreeListPorcelain_Empty(t *testing.T) {
	assert.Nil(t, ParseWorktreeListPorcelain(""))
}

func TestParseWorktreeListPorcelain_DetachedHead(t *testing.T) {
	input := `worktree /srv/backend
HEAD abc123def456
detached
`
	worktrees := ParseWorktreeListPorcelain(input)
	assert.Len(t, worktrees, 1)
	assert.Empty(t, worktrees[0].Branch)
}
