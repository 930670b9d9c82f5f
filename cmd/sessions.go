package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/output"
)

var sessionsStatus string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and control agent sessions",
	Long: `Inspect and control agent sessions on a running daemon.

Running bare 'warden sessions' is the same as 'warden sessions list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(args[0])
	},
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session's backend and mark it complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsStopRun(args[0])
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsStatus, "status", "", "Filter by status (active, paused, complete, error)")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsStopCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func daemonURL(path string) string {
	return "http://" + viper.GetString("listen_addr") + path
}

// apiGet fetches a daemon endpoint and decodes the JSON body into out.
func apiGet(path string, out any) error {
	resp, err := http.Get(daemonURL(path))
	if err != nil {
		return fmt.Errorf("daemon not reachable (is 'warden serve' running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("%s", payload.Error)
	}
	return fmt.Errorf("daemon returned status %d", resp.StatusCode)
}

func sessionsListRun() error {
	path := "/api/v1/sessions"
	if sessionsStatus != "" {
		path += "?status=" + sessionsStatus
	}
	var payload struct {
		Sessions []models.AgentSession `json:"sessions"`
	}
	if err := apiGet(path, &payload); err != nil {
		return err
	}

	if len(payload.Sessions) == 0 {
		ui.Info("No sessions")
		return nil
	}

	table := ui.Table([]string{"ID", "Issue", "Status", "Backend", "Cost", "Updated"})
	for _, s := range payload.Sessions {
		issue := "-"
		if s.Issue != nil {
			issue = s.Issue.IssueIdentifier
		}
		backend := "-"
		if s.Backend != nil {
			backend = string(s.Backend.Backend)
		}
		table.Append([]string{
			shortID(s.ID),
			issue,
			output.StatusColor(string(s.Status)),
			backend,
			fmt.Sprintf("$%.2f", s.Metadata.CostUSD),
			s.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func sessionsShowRun(id string) error {
	var payload struct {
		Session  models.AgentSession `json:"session"`
		ParentID string              `json:"parentId"`
		Children []string            `json:"children"`
	}
	if err := apiGet("/api/v1/sessions/"+id, &payload); err != nil {
		return err
	}
	s := payload.Session

	ui.Info("Session %s", output.Cyan(s.ID))
	ui.Info("Status: %s", output.StatusColor(string(s.Status)))
	if s.Issue != nil {
		ui.Info("Issue: %s", s.Issue.IssueIdentifier)
	}
	if s.Backend != nil {
		ui.Info("Backend: %s (%s)", s.Backend.Backend, s.Backend.SessionID)
	}
	ui.Info("Workspace: %s", s.Workspace.Path)
	ui.Info("Cost: $%.4f  Tokens: %d in / %d out",
		s.Metadata.CostUSD, s.Metadata.Usage.InputTokens, s.Metadata.Usage.OutputTokens)
	if payload.ParentID != "" {
		ui.Info("Parent: %s", shortID(payload.ParentID))
	}
	if len(payload.Children) > 0 {
		short := make([]string, len(payload.Children))
		for i, c := range payload.Children {
			short[i] = shortID(c)
		}
		ui.Info("Children: %s", strings.Join(short, ", "))
	}

	var entriesPayload struct {
		Entries []models.SessionEntry `json:"entries"`
	}
	if err := apiGet("/api/v1/sessions/"+id+"/entries", &entriesPayload); err != nil {
		return err
	}
	for _, e := range entriesPayload.Entries {
		prefix := string(e.Type)
		if e.Metadata != nil && (e.Metadata.IsError || e.Metadata.ToolResultError) {
			prefix = output.Red(prefix)
		}
		content := e.Content
		if e.Metadata != nil && e.Metadata.ToolName != "" && e.Type == models.EntryTypeAssistant {
			content = "→ " + e.Metadata.ToolName
		}
		fmt.Fprintf(ui.Out, "[%s] %s\n", prefix, content)
	}
	return nil
}

func sessionsStopRun(id string) error {
	resp, err := http.Post(daemonURL("/api/v1/sessions/"+id+"/stop"), "application/json", nil)
	if err != nil {
		return fmt.Errorf("daemon not reachable (is 'warden serve' running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	ui.Success("Session %s stopped", shortID(id))
	return nil
}

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
