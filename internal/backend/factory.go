package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/models"
)

// CLIFactory starts backends as CLI subprocesses, except opencode which
// runs as an SSE server connection. Command names may be overridden per
// backend in configuration.
type CLIFactory struct {
	Commands    map[models.Backend]string
	OpenCodeURL string
	logger      *slog.Logger
}

// NewCLIFactory creates a factory with default command names.
func NewCLIFactory(commands map[models.Backend]string, openCodeURL string, logger *slog.Logger) *CLIFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIFactory{Commands: commands, OpenCodeURL: openCodeURL, logger: logger}
}

var defaultCommands = map[models.Backend]string{
	models.BackendClaude: "claude",
	models.BackendGemini: "gemini",
	models.BackendCodex:  "codex",
	models.BackendCursor: "cursor-agent",
}

func (f *CLIFactory) command(backend models.Backend) string {
	if cmd, ok := f.Commands[backend]; ok && strings.TrimSpace(cmd) != "" {
		return cmd
	}
	return defaultCommands[backend]
}

// Start launches a backend for the given repository and parameters.
func (f *CLIFactory) Start(ctx context.Context, repo models.RepositoryConfig, params StartParams) (Runner, error) {
	if params.Backend == models.BackendOpenCode {
		return f.startOpenCode(ctx, params)
	}

	name := f.command(params.Backend)
	if name == "" {
		return nil, fmt.Errorf("no command configured for backend %q", params.Backend)
	}
	args := f.args(params)

	f.logger.Debug("starting backend process",
		"backend", params.Backend, "command", name, "cwd", params.WorkspacePath)
	return StartProcess(ctx, params.WorkspacePath, name, args...)
}

func (f *CLIFactory) args(params StartParams) []string {
	var args []string
	switch params.Backend {
	case models.BackendClaude:
		args = []string{"--print", "--verbose", "--output-format", "stream-json"}
		if params.ResumeSessionID != "" {
			args = append(args, "--resume", params.ResumeSessionID)
		}
	case models.BackendCodex:
		args = []string{"exec", "--json"}
		if params.ResumeSessionID != "" {
			args = append(args, "resume", params.ResumeSessionID)
		}
	case models.BackendGemini:
		args = []string{"--output-format", "stream-json", "--yolo"}
		if params.ResumeSessionID != "" {
			args = append(args, "--resume", params.ResumeSessionID)
		}
	case models.BackendCursor:
		args = []string{"--print", "--output-format", "stream-json"}
		if params.ResumeSessionID != "" {
			args = append(args, "--resume", params.ResumeSessionID)
		}
	}
	if params.Prompt != "" {
		args = append(args, params.Prompt)
	}
	return args
}

// startOpenCode creates (or resumes) a server session, subscribes to its
// event stream, and sends the initial prompt.
func (f *CLIFactory) startOpenCode(ctx context.Context, params StartParams) (Runner, error) {
	if f.OpenCodeURL == "" {
		return nil, fmt.Errorf("opencode server url is not configured")
	}

	sessionID := params.ResumeSessionID
	if sessionID == "" {
		id, err := f.createOpenCodeSession(ctx, params.WorkspacePath)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	runner, err := ConnectSSE(ctx, f.OpenCodeURL, sessionID)
	if err != nil {
		return nil, err
	}
	if params.Prompt != "" {
		if err := runner.Send(ctx, params.Prompt); err != nil {
			_ = runner.Stop()
			return nil, err
		}
	}
	return runner, nil
}

func (f *CLIFactory) createOpenCodeSession(ctx context.Context, dir string) (string, error) {
	body, _ := json.Marshal(map[string]any{"directory": dir})
	url := strings.TrimRight(f.OpenCodeURL, "/") + "/session"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create opencode session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create opencode session: status %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode opencode session: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("opencode session id missing in response")
	}
	return created.ID, nil
}
