// Package tracker defines the issue-tracker collaborator interface the
// orchestration core depends on. Concrete tracker clients live outside
// this module.
package tracker

import "context"

// Project is the tracker-side project an issue belongs to.
type Project struct {
	Name string
}

// SelectionOption is one choice offered in an interactive prompt.
type SelectionOption struct {
	Label string
	Value string
}

// Client is the narrow surface the core consumes. All accessors are
// uniformly context-bound and asynchronous-capable; there is no
// sometimes-a-promise ambiguity at this boundary.
type Client interface {
	// FetchIssueLabels returns the labels on an issue.
	FetchIssueLabels(ctx context.Context, issueID string) ([]string, error)

	// FetchIssueDescription returns the issue body, "" when absent.
	FetchIssueDescription(ctx context.Context, issueID string) (string, error)

	// FetchIssueProject returns the issue's project, nil when it has none.
	FetchIssueProject(ctx context.Context, issueID string) (*Project, error)

	// PostActivity posts content to the agent session's activity feed and
	// returns the tracker-assigned activity id.
	PostActivity(ctx context.Context, sessionID, content string) (string, error)

	// PostSelectionPrompt posts an interactive choice to the tracker.
	PostSelectionPrompt(ctx context.Context, sessionID string, options []SelectionOption) error
}
