package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wardenhq/warden/internal/mcp"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/store"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a running coding agent query warden for its sibling and
parent sessions. Configure in the agent with:

  {
    "mcpServers": {
      "warden": { "command": "warden", "args": ["mcp"] }
    }
  }

The server reads the latest persisted snapshot, so it reflects state as
of the daemon's last snapshot cadence.

Available tools: warden_list_sessions, warden_get_session,
warden_get_transcript, warden_session_tree`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	snapshots, err := store.NewSQLiteStore(viper.GetString("db_path"))
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer func() { _ = snapshots.Close() }()
	if err := snapshots.Migrate(cmd.Context()); err != nil {
		return fmt.Errorf("migrate snapshot store: %w", err)
	}

	reg := registry.New()
	snap, err := snapshots.LoadLatest(cmd.Context())
	if err != nil {
		return fmt.Errorf("load latest snapshot: %w", err)
	}
	if snap != nil {
		if err := reg.Restore(snap); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}

	return mcp.NewServer(reg).ServeStdio(cmd.Context())
}
