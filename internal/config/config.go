// Package config holds daemon settings and the repository definitions
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/models"
)

// Settings is the effective daemon configuration, resolved through viper
// (flags > env > config file > defaults).
type Settings struct {
	DBPath           string
	ListenAddr       string
	RepositoriesFile string
	DefaultBackend   models.Backend
	MaxConcurrent    int64

	// Retention is the age past which terminal sessions are swept.
	Retention time.Duration
	// CleanupInterval is the cadence of the sweep and snapshot persist.
	CleanupInterval time.Duration
	// SnapshotsKept bounds the persisted snapshot history.
	SnapshotsKept int

	// BackendCommands overrides the executable per backend.
	BackendCommands map[models.Backend]string
	// OpenCodeURL is the opencode server base URL.
	OpenCodeURL string
}

// SetDefaults registers every setting's default with viper.
func SetDefaults() {
	home, _ := os.UserHomeDir()
	configDir := filepath.Join(home, ".config", "warden")

	viper.SetDefault("db_path", filepath.Join(configDir, "warden.db"))
	viper.SetDefault("listen_addr", "127.0.0.1:7414")
	viper.SetDefault("repositories_file", filepath.Join(configDir, "repositories.yaml"))
	viper.SetDefault("default_backend", string(models.BackendClaude))
	viper.SetDefault("max_concurrent", 8)
	viper.SetDefault("retention", "336h") // 14 days
	viper.SetDefault("cleanup_interval", "10m")
	viper.SetDefault("snapshots_kept", 20)
	viper.SetDefault("opencode_url", "http://127.0.0.1:4096")
	viper.SetDefault("backends.claude", "")
	viper.SetDefault("backends.gemini", "")
	viper.SetDefault("backends.codex", "")
	viper.SetDefault("backends.cursor", "")
}

// Load resolves Settings from viper.
func Load() (Settings, error) {
	backend, err := models.ParseBackend(viper.GetString("default_backend"))
	if err != nil {
		return Settings{}, fmt.Errorf("default_backend: %w", err)
	}

	retention := viper.GetDuration("retention")
	if retention <= 0 {
		return Settings{}, fmt.Errorf("retention must be positive, got %s", viper.GetString("retention"))
	}
	interval := viper.GetDuration("cleanup_interval")
	if interval <= 0 {
		return Settings{}, fmt.Errorf("cleanup_interval must be positive, got %s", viper.GetString("cleanup_interval"))
	}

	commands := make(map[models.Backend]string)
	for _, b := range []models.Backend{models.BackendClaude, models.BackendGemini, models.BackendCodex, models.BackendCursor} {
		if cmd := viper.GetString("backends." + string(b)); cmd != "" {
			commands[b] = cmd
		}
	}

	return Settings{
		DBPath:           viper.GetString("db_path"),
		ListenAddr:       viper.GetString("listen_addr"),
		RepositoriesFile: viper.GetString("repositories_file"),
		DefaultBackend:   backend,
		MaxConcurrent:    viper.GetInt64("max_concurrent"),
		Retention:        retention,
		CleanupInterval:  interval,
		SnapshotsKept:    viper.GetInt("snapshots_kept"),
		BackendCommands:  commands,
		OpenCodeURL:      viper.GetString("opencode_url"),
	}, nil
}

// repositoriesFile is the on-disk shape of repositories.yaml.
type repositoriesFile struct {
	Repositories []models.RepositoryConfig `yaml:"repositories"`
}

// LoadRepositories reads and validates the repository definitions file.
func LoadRepositories(path string) ([]models.RepositoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read repositories file: %w", err)
	}

	var file repositoriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse repositories file: %w", err)
	}
	if len(file.Repositories) == 0 {
		return nil, fmt.Errorf("repositories file %s defines no repositories", path)
	}

	seen := make(map[string]bool, len(file.Repositories))
	for i, repo := range file.Repositories {
		if repo.ID == "" {
			return nil, fmt.Errorf("repository %d: id is required", i)
		}
		if seen[repo.ID] {
			return nil, fmt.Errorf("repository id %q appears twice", repo.ID)
		}
		seen[repo.ID] = true
		if repo.RepositoryPath == "" {
			return nil, fmt.Errorf("repository %q: repository_path is required", repo.ID)
		}
		if repo.TrackerWorkspace == "" {
			return nil, fmt.Errorf("repository %q: tracker_workspace is required", repo.ID)
		}
	}
	return file.Repositories, nil
}
