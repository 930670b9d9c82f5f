package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "warden"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage warden configuration.

Running bare 'warden config' is the same as 'warden config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# warden configuration
# See: warden config show (for effective values)

# SQLite snapshot database path (default: ~/.config/warden/warden.db)
# db_path: {{ .DBPath }}

# Daemon listen address (default: 127.0.0.1:7414)
# listen_addr: {{ .ListenAddr }}

# Repository definitions file (default: ~/.config/warden/repositories.yaml)
# repositories_file: {{ .RepositoriesFile }}

# Default backend for new sessions: claude, gemini, codex, cursor, opencode
# default_backend: {{ .DefaultBackend }}

# Maximum simultaneously running backends
# max_concurrent: {{ .MaxConcurrent }}

# Retention window for terminal sessions before the cleanup sweep
# retention: {{ .Retention }}

# Cleanup sweep and snapshot cadence
# cleanup_interval: {{ .CleanupInterval }}

# opencode server base URL
# opencode_url: {{ .OpenCodeURL }}

# Per-backend executable overrides
# backends:
#   claude: ""
#   gemini: ""
#   codex: ""
#   cursor: ""
`

type configTemplateData struct {
	DBPath           string
	ListenAddr       string
	RepositoriesFile string
	DefaultBackend   string
	MaxConcurrent    int
	Retention        string
	CleanupInterval  string
	OpenCodeURL      string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		ListenAddr:       viper.GetString("listen_addr"),
		RepositoriesFile: viper.GetString("repositories_file"),
		DefaultBackend:   viper.GetString("default_backend"),
		MaxConcurrent:    viper.GetInt("max_concurrent"),
		Retention:        viper.GetString("retention"),
		CleanupInterval:  viper.GetString("cleanup_interval"),
		OpenCodeURL:      viper.GetString("opencode_url"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	return nil
}

// configKeys lists the keys shown by 'config show' with their env vars.
var configKeys = []struct {
	Key    string
	EnvVar string
}{
	{Key: "db_path", EnvVar: "WARDEN_DB_PATH"},
	{Key: "listen_addr", EnvVar: "WARDEN_LISTEN_ADDR"},
	{Key: "repositories_file", EnvVar: "WARDEN_REPOSITORIES_FILE"},
	{Key: "default_backend", EnvVar: "WARDEN_DEFAULT_BACKEND"},
	{Key: "max_concurrent", EnvVar: "WARDEN_MAX_CONCURRENT"},
	{Key: "retention", EnvVar: "WARDEN_RETENTION"},
	{Key: "cleanup_interval", EnvVar: "WARDEN_CLEANUP_INTERVAL"},
	{Key: "snapshots_kept", EnvVar: "WARDEN_SNAPSHOTS_KEPT"},
	{Key: "opencode_url", EnvVar: "WARDEN_OPENCODE_URL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Key", "Value", "Env var"})
	for _, k := range configKeys {
		table.Append([]string{k.Key, fmt.Sprintf("%v", viper.Get(k.Key)), k.EnvVar})
	}
	table.Render()
	return nil
}
