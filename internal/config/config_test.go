package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/models"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7414", s.ListenAddr)
	assert.Equal(t, models.BackendClaude, s.DefaultBackend)
	assert.Equal(t, int64(8), s.MaxConcurrent)
	assert.Equal(t, 336*time.Hour, s.Retention)
	assert.Equal(t, 10*time.Minute, s.CleanupInterval)
	assert.Equal(t, 20, s.SnapshotsKept)
	assert.Equal(t, "http://127.0.0.1:4096", s.OpenCodeURL)
	assert.Empty(t, s.BackendCommands, "unset backend commands stay out of the map")
}

func TestLoad_Overrides(t *testing.T) {
	resetViper(t)
	viper.Set("default_backend", "codex")
	viper.Set("retention", "72h")
	viper.Set("backends.claude", "/opt/claude/bin/claude")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, models.BackendCodex, s.DefaultBackend)
	assert.Equal(t, 72*time.Hour, s.Retention)
	assert.Equal(t, "/opt/claude/bin/claude", s.BackendCommands[models.BackendClaude])
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	resetViper(t)
	viper.Set("default_backend", "copilot")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsNonPositiveDurations(t *testing.T) {
	resetViper(t)
	viper.Set("retention", "0s")
	_, err := Load()
	assert.Error(t, err)

	resetViper(t)
	viper.Set("cleanup_interval", "-1m")
	_, err = Load()
	assert.Error(t, err)
}

func writeRepos(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repositories.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRepositories(t *testing.T) {
	path := writeRepos(t, `
repositories:
  - id: backend
    name: backend
    repository_path: /srv/backend
    repository_url: https://github.com/acme/backend
    tracker_workspace: ws-1
    routing_labels: [api, server]
    team_keys: [ENG]
  - id: docs
    name: docs
    repository_path: /srv/docs
    tracker_workspace: ws-1
`)

	repos, err := LoadRepositories(path)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "backend", repos[0].ID)
	assert.Equal(t, []string{"api", "server"}, repos[0].RoutingLabels)
	assert.True(t, repos[0].HasRoutingRules())
	assert.False(t, repos[1].HasRoutingRules())
}

func TestLoadRepositories_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", "repositories: []\n"},
		{"missing id", "repositories:\n  - repository_path: /x\n    tracker_workspace: ws-1\n"},
		{"duplicate id", "repositories:\n  - id: a\n    repository_path: /x\n    tracker_workspace: ws-1\n  - id: a\n    repository_path: /y\n    tracker_workspace: ws-1\n"},
		{"missing path", "repositories:\n  - id: a\n    tracker_workspace: ws-1\n"},
		{"missing workspace", "repositories:\n  - id: a\n    repository_path: /x\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRepositories(writeRepos(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadRepositories_MissingFile(t *testing.T) {
	_, err := LoadRepositories(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
