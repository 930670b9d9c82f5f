package tracker

import (
	"context"
	"log/slog"
)

// LogClient is the tracker client used when no real tracker integration is
// configured: routing probes return empty results and outbound activity is
// logged instead of posted. It keeps the daemon fully runnable standalone.
type LogClient struct {
	logger *slog.Logger
}

// NewLogClient creates a LogClient.
func NewLogClient(logger *slog.Logger) *LogClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogClient{logger: logger}
}

func (c *LogClient) FetchIssueLabels(ctx context.Context, issueID string) ([]string, error) {
	return nil, nil
}

func (c *LogClient) FetchIssueDescription(ctx context.Context, issueID string) (string, error) {
	return "", nil
}

func (c *LogClient) FetchIssueProject(ctx context.Context, issueID string) (*Project, error) {
	return nil, nil
}

func (c *LogClient) PostActivity(ctx context.Context, sessionID, content string) (string, error) {
	c.logger.Info("activity", "session", sessionID, "content", content)
	return "", nil
}

func (c *LogClient) PostSelectionPrompt(ctx context.Context, sessionID string, options []SelectionOption) error {
	labels := make([]string, len(options))
	for i, opt := range options {
		labels[i] = opt.Label
	}
	c.logger.Info("selection prompt", "session", sessionID, "options", labels)
	return nil
}
