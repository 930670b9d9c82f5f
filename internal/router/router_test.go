package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/tracker"
)

// fakeTracker is a scriptable tracker.Client.
type fakeTracker struct {
	labels      []string
	labelsErr   error
	description string
	descErr     error
	project     *tracker.Project
	projectErr  error

	activities []string
	promptErr  error
	prompts    int
	postErr    error
}

func (f *fakeTracker) FetchIssueLabels(ctx context.Context, issueID string) ([]string, error) {
	return f.labels, f.labelsErr
}

func (f *fakeTracker) FetchIssueDescription(ctx context.Context, issueID string) (string, error) {
	return f.description, f.descErr
}

func (f *fakeTracker) FetchIssueProject(ctx context.Context, issueID string) (*tracker.Project, error) {
	return f.project, f.projectErr
}

func (f *fakeTracker) PostActivity(ctx context.Context, sessionID, content string) (string, error) {
	f.activities = append(f.activities, content)
	return "act-1", f.postErr
}

func (f *fakeTracker) PostSelectionPrompt(ctx context.Context, sessionID string, options []tracker.SelectionOption) error {
	f.prompts++
	return f.promptErr
}

type fakeSessions struct {
	repoByIssue map[string]string
}

func (f *fakeSessions) RepositoryForIssue(issueID string) (string, bool) {
	id, ok := f.repoByIssue[issueID]
	return id, ok
}

func testRepos() []models.RepositoryConfig {
	return []models.RepositoryConfig{
		{
			ID:               "backend",
			Name:             "backend",
			RepositoryURL:    "https://github.com/acme/backend",
			RepositoryPath:   "/srv/backend",
			TrackerWorkspace: "ws-1",
			RoutingLabels:    []string{"api", "server"},
			TeamKeys:         []string{"ENG"},
			ProjectKeys:      []string{"Platform"},
		},
		{
			ID:               "frontend",
			Name:             "frontend",
			RepositoryURL:    "https://github.com/acme/frontend",
			RepositoryPath:   "/srv/frontend",
			TrackerWorkspace: "ws-1",
			RoutingLabels:    []string{"ui"},
			TeamKeys:         []string{"WEB"},
		},
		{
			ID:               "docs",
			Name:             "docs",
			RepositoryURL:    "https://github.com/acme/docs",
			RepositoryPath:   "/srv/docs",
			TrackerWorkspace: "ws-1",
		},
	}
}

func event() Event {
	return Event{WorkspaceID: "ws-1", IssueID: "iss-1", IssueIdentifier: "ENG-42"}
}

func TestResolve_SessionAffinityWinsFirst(t *testing.T) {
	ft := &fakeTracker{labels: []string{"ui"}}
	sessions := &fakeSessions{repoByIssue: map[string]string{"iss-1": "backend"}}
	r := New(testRepos(), ft, sessions, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "backend", res.Repository.ID)
	assert.Equal(t, MethodExistingSession, res.Method)
}

func TestResolve_CacheShortCircuits(t *testing.T) {
	ft := &fakeTracker{labels: []string{"ui"}}
	r := New(testRepos(), ft, nil, nil)
	r.Cache().Put("iss-1", "docs")

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "docs", res.Repository.ID)
	assert.Equal(t, MethodCache, res.Method)
}

func TestResolve_DescriptionTagBeatsLabels(t *testing.T) {
	ft := &fakeTracker{
		description: "Fix the login flow [repo=frontend]",
		labels:      []string{"api"}, // would route to backend
	}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "frontend", res.Repository.ID)
	assert.Equal(t, MethodDescriptionTag, res.Method)
}

func TestResolve_DescriptionTagMarkdownEscaped(t *testing.T) {
	ft := &fakeTracker{description: `Something \[repo=acme/backend\]`}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "backend", res.Repository.ID)
}

func TestResolve_Labels(t *testing.T) {
	ft := &fakeTracker{labels: []string{"Bug", "UI"}}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "frontend", res.Repository.ID)
	assert.Equal(t, MethodLabel, res.Method)
}

func TestResolve_Project(t *testing.T) {
	ft := &fakeTracker{project: &tracker.Project{Name: "platform"}}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "backend", res.Repository.ID)
	assert.Equal(t, MethodProject, res.Method)
}

func TestResolve_TeamKeyFromIdentifierPrefix(t *testing.T) {
	ft := &fakeTracker{}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), Event{
		WorkspaceID:     "ws-1",
		IssueID:         "iss-1",
		IssueIdentifier: "WEB-7", // no explicit TeamKey
	})
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "frontend", res.Repository.ID)
	assert.Equal(t, MethodTeam, res.Method)
}

func TestResolve_CatchAllSingleUnconfigured(t *testing.T) {
	ft := &fakeTracker{}
	r := New(testRepos(), ft, nil, nil)

	// Nothing matches the configured tiers; docs has no routing rules.
	res := r.Resolve(context.Background(), Event{WorkspaceID: "ws-1", IssueID: "iss-1", IssueIdentifier: "OPS-1"})
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "docs", res.Repository.ID)
	assert.Equal(t, MethodCatchAll, res.Method)
}

func TestResolve_TwoUnconfiguredNeedsSelection(t *testing.T) {
	repos := []models.RepositoryConfig{
		{ID: "a", Name: "a", RepositoryPath: "/a", TrackerWorkspace: "ws-1"},
		{ID: "b", Name: "b", RepositoryPath: "/b", TrackerWorkspace: "ws-1"},
	}
	r := New(repos, &fakeTracker{}, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeNeedsSelection, res.Outcome)
	assert.Len(t, res.Candidates, 2)
}

func TestResolve_SingleCandidateDefault(t *testing.T) {
	repos := []models.RepositoryConfig{
		{ID: "only", Name: "only", RepositoryPath: "/o", TrackerWorkspace: "ws-1", TeamKeys: []string{"OTHER"}},
	}
	r := New(repos, &fakeTracker{}, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "only", res.Repository.ID)
	assert.Equal(t, MethodDefault, res.Method)
}

func TestResolve_NoWorkspaceRepos(t *testing.T) {
	r := New(testRepos(), &fakeTracker{}, nil, nil)

	res := r.Resolve(context.Background(), Event{WorkspaceID: "ws-unknown", IssueID: "iss-1"})
	assert.Equal(t, OutcomeNone, res.Outcome)
}

func TestResolve_TierFailureSkipsNotAborts(t *testing.T) {
	ft := &fakeTracker{
		descErr:   errors.New("tracker down"),
		labelsErr: errors.New("tracker down"),
		labels:    []string{"api"},
	}
	r := New(testRepos(), ft, nil, nil)

	// Description and label probes fail; team key still routes.
	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)
	assert.Equal(t, "backend", res.Repository.ID)
	assert.Equal(t, MethodTeam, res.Method)
}

func TestResolve_CachesSelection(t *testing.T) {
	ft := &fakeTracker{labels: []string{"ui"}}
	r := New(testRepos(), ft, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeSelected, res.Outcome)

	cached, ok := r.Cache().Get("iss-1")
	require.True(t, ok)
	assert.Equal(t, "frontend", cached)

	// A later event for the same issue hits the cache even if labels change.
	ft.labels = []string{"api"}
	res = r.Resolve(context.Background(), event())
	assert.Equal(t, MethodCache, res.Method)
	assert.Equal(t, "frontend", res.Repository.ID)
}

func TestResolve_NeedsSelectionNotCached(t *testing.T) {
	repos := []models.RepositoryConfig{
		{ID: "a", Name: "a", RepositoryPath: "/a", TrackerWorkspace: "ws-1"},
		{ID: "b", Name: "b", RepositoryPath: "/b", TrackerWorkspace: "ws-1"},
	}
	r := New(repos, &fakeTracker{}, nil, nil)

	res := r.Resolve(context.Background(), event())
	require.Equal(t, OutcomeNeedsSelection, res.Outcome)
	_, ok := r.Cache().Get("iss-1")
	assert.False(t, ok)
}
