// Package router resolves inbound work-item events to a target
// repository through a priority cascade, with a routing cache for
// conversational stability and an interactive disambiguation flow for
// ambiguous workspaces.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/tracker"
)

// Method records which cascade tier selected the repository.
type Method string

const (
	MethodExistingSession Method = "existing-session"
	MethodCache           Method = "cache"
	MethodDescriptionTag  Method = "description-tag"
	MethodLabel           Method = "label"
	MethodProject         Method = "project"
	MethodTeam            Method = "team"
	MethodCatchAll        Method = "catch-all"
	MethodDefault         Method = "default"
	MethodUserSelection   Method = "user-selection"
)

// Outcome discriminates a routing resolution.
type Outcome string

const (
	OutcomeSelected       Outcome = "selected"
	OutcomeNeedsSelection Outcome = "needs_selection"
	OutcomeNone           Outcome = "none"
)

// Event is the inbound work-item event the router consumes.
type Event struct {
	WorkspaceID     string
	IssueID         string
	TeamKey         string
	IssueIdentifier string
}

// Resolution is the router's answer.
type Resolution struct {
	Outcome    Outcome
	Repository *models.RepositoryConfig
	Method     Method
	Candidates []models.RepositoryConfig
}

// ActiveSessions is the session-affinity probe: it reports which
// repository already owns an active session for an issue.
type ActiveSessions interface {
	RepositoryForIssue(issueID string) (repositoryID string, ok bool)
}

// Router resolves events against the configured repository set.
type Router struct {
	repos    []models.RepositoryConfig
	tracker  tracker.Client
	sessions ActiveSessions
	cache    *Cache
	logger   *slog.Logger
}

// New creates a Router. sessions may be nil for standalone use; the
// affinity tier is skipped then.
func New(repos []models.RepositoryConfig, tc tracker.Client, sessions ActiveSessions, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		repos:    repos,
		tracker:  tc,
		sessions: sessions,
		cache:    NewCache(),
		logger:   logger,
	}
}

// Cache exposes the routing cache (the orchestrator records
// user-selection outcomes through it).
func (r *Router) Cache() *Cache { return r.cache }

// Repository returns the configured repository with the given id.
func (r *Router) Repository(id string) (models.RepositoryConfig, bool) {
	for _, repo := range r.repos {
		if repo.ID == id {
			return repo, true
		}
	}
	return models.RepositoryConfig{}, false
}

// Resolve runs the routing cascade, first match wins. Each tier is an
// independently-failable probe: a collaborator error is logged and that
// tier skipped, never aborting resolution.
func (r *Router) Resolve(ctx context.Context, ev Event) Resolution {
	// Session affinity: an issue already claimed by a repository stays
	// there, so two repositories never race for the same issue.
	if r.sessions != nil && ev.IssueID != "" {
		if repoID, ok := r.sessions.RepositoryForIssue(ev.IssueID); ok {
			if repo, found := r.Repository(repoID); found {
				return selected(repo, MethodExistingSession)
			}
		}
	}

	if ev.IssueID != "" {
		if repoID, ok := r.cache.Get(ev.IssueID); ok {
			if repo, found := r.Repository(repoID); found {
				return selected(repo, MethodCache)
			}
		}
	}

	candidates := r.workspaceRepos(ev.WorkspaceID)
	if len(candidates) == 0 {
		return Resolution{Outcome: OutcomeNone}
	}

	res := r.resolveCascade(ctx, ev, candidates)
	if res.Outcome == OutcomeSelected && ev.IssueID != "" {
		r.cache.Put(ev.IssueID, res.Repository.ID)
	}
	return res
}

func (r *Router) resolveCascade(ctx context.Context, ev Event, candidates []models.RepositoryConfig) Resolution {
	if repo, ok := r.byDescriptionTag(ctx, ev, candidates); ok {
		return selected(repo, MethodDescriptionTag)
	}
	if repo, ok := r.byLabels(ctx, ev, candidates); ok {
		return selected(repo, MethodLabel)
	}
	if repo, ok := r.byProject(ctx, ev, candidates); ok {
		return selected(repo, MethodProject)
	}
	if repo, ok := r.byTeam(ev, candidates); ok {
		return selected(repo, MethodTeam)
	}
	if repo, ok := catchAll(candidates); ok {
		return selected(repo, MethodCatchAll)
	}
	if len(candidates) > 1 {
		return Resolution{Outcome: OutcomeNeedsSelection, Candidates: candidates}
	}
	return selected(candidates[0], MethodDefault)
}

func (r *Router) workspaceRepos(workspaceID string) []models.RepositoryConfig {
	var out []models.RepositoryConfig
	for _, repo := range r.repos {
		if repo.TrackerWorkspace == workspaceID {
			out = append(out, repo)
		}
	}
	return out
}

// repoTagPattern matches a [repo=value] tag, tolerating markdown-escaped
// brackets.
var repoTagPattern = regexp.MustCompile(`\\?\[repo=([^\]\\]+)\\?\]`)

func (r *Router) byDescriptionTag(ctx context.Context, ev Event, candidates []models.RepositoryConfig) (models.RepositoryConfig, bool) {
	if ev.IssueID == "" {
		return models.RepositoryConfig{}, false
	}
	description, err := r.tracker.FetchIssueDescription(ctx, ev.IssueID)
	if err != nil {
		r.logger.Warn("description routing probe failed", "issue", ev.IssueID, "error", err)
		return models.RepositoryConfig{}, false
	}
	match := repoTagPattern.FindStringSubmatch(description)
	if match == nil {
		return models.RepositoryConfig{}, false
	}
	value := strings.TrimSpace(match[1])
	if value == "" {
		return models.RepositoryConfig{}, false
	}

	// URL substring, exact name (case-insensitive), then id — in order.
	for _, repo := range candidates {
		if repo.RepositoryURL != "" && strings.Contains(repo.RepositoryURL, value) {
			return repo, true
		}
	}
	for _, repo := range candidates {
		if strings.EqualFold(repo.Name, value) {
			return repo, true
		}
	}
	for _, repo := range candidates {
		if repo.ID == value {
			return repo, true
		}
	}
	return models.RepositoryConfig{}, false
}

func (r *Router) byLabels(ctx context.Context, ev Event, candidates []models.RepositoryConfig) (models.RepositoryConfig, bool) {
	if ev.IssueID == "" {
		return models.RepositoryConfig{}, false
	}
	labels, err := r.tracker.FetchIssueLabels(ctx, ev.IssueID)
	if err != nil {
		r.logger.Warn("label routing probe failed", "issue", ev.IssueID, "error", err)
		return models.RepositoryConfig{}, false
	}
	if len(labels) == 0 {
		return models.RepositoryConfig{}, false
	}
	have := make(map[string]bool, len(labels))
	for _, l := range labels {
		have[strings.ToLower(l)] = true
	}
	for _, repo := range candidates {
		for _, want := range repo.RoutingLabels {
			if have[strings.ToLower(want)] {
				return repo, true
			}
		}
	}
	return models.RepositoryConfig{}, false
}

func (r *Router) byProject(ctx context.Context, ev Event, candidates []models.RepositoryConfig) (models.RepositoryConfig, bool) {
	if ev.IssueID == "" {
		return models.RepositoryConfig{}, false
	}
	configured := false
	for _, repo := range candidates {
		if len(repo.ProjectKeys) > 0 {
			configured = true
			break
		}
	}
	if !configured {
		return models.RepositoryConfig{}, false
	}

	project, err := r.tracker.FetchIssueProject(ctx, ev.IssueID)
	if err != nil {
		r.logger.Warn("project routing probe failed", "issue", ev.IssueID, "error", err)
		return models.RepositoryConfig{}, false
	}
	if project == nil || project.Name == "" {
		return models.RepositoryConfig{}, false
	}
	for _, repo := range candidates {
		for _, key := range repo.ProjectKeys {
			if strings.EqualFold(key, project.Name) {
				return repo, true
			}
		}
	}
	return models.RepositoryConfig{}, false
}

func (r *Router) byTeam(ev Event, candidates []models.RepositoryConfig) (models.RepositoryConfig, bool) {
	teamKey := ev.TeamKey
	if teamKey == "" {
		// Fall back to the identifier prefix: "ENG-123" → "ENG".
		if idx := strings.Index(ev.IssueIdentifier, "-"); idx > 0 {
			teamKey = ev.IssueIdentifier[:idx]
		}
	}
	if teamKey == "" {
		return models.RepositoryConfig{}, false
	}
	for _, repo := range candidates {
		for _, key := range repo.TeamKeys {
			if strings.EqualFold(key, teamKey) {
				return repo, true
			}
		}
	}
	return models.RepositoryConfig{}, false
}

// catchAll selects the repository with no routing configuration at all.
// Two unconfigured repositories are ambiguous, not a catch-all.
func catchAll(candidates []models.RepositoryConfig) (models.RepositoryConfig, bool) {
	var found *models.RepositoryConfig
	for i := range candidates {
		if candidates[i].HasRoutingRules() {
			continue
		}
		if found != nil {
			return models.RepositoryConfig{}, false
		}
		found = &candidates[i]
	}
	if found == nil {
		return models.RepositoryConfig{}, false
	}
	return *found, true
}

func selected(repo models.RepositoryConfig, method Method) Resolution {
	r := repo
	return Resolution{Outcome: OutcomeSelected, Repository: &r, Method: method}
}
