package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/tracker"
)

// PendingSelection is an ambiguous route awaiting a user choice. It exists
// only between elicitation and the user's response, and is consumed
// exactly once.
type PendingSelection struct {
	IssueID    string
	Candidates []models.RepositoryConfig
}

// Selector runs the interactive disambiguation flow:
// unresolved → awaiting_user_input → resolved.
type Selector struct {
	mu      sync.Mutex
	pending map[string]PendingSelection
	tracker tracker.Client
	logger  *slog.Logger
}

// NewSelector creates a Selector posting prompts through the tracker.
func NewSelector(tc tracker.Client, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		pending: make(map[string]PendingSelection),
		tracker: tc,
		logger:  logger,
	}
}

// Elicit persists a pending selection keyed by the external session id and
// posts an interactive choice to the tracker. If posting fails, a visible
// error activity is posted and the pending entry cleared so the state
// machine never sticks in awaiting_user_input.
func (s *Selector) Elicit(ctx context.Context, sessionID, issueID string, candidates []models.RepositoryConfig) error {
	s.mu.Lock()
	s.pending[sessionID] = PendingSelection{IssueID: issueID, Candidates: candidates}
	s.mu.Unlock()

	options := make([]tracker.SelectionOption, len(candidates))
	for i, repo := range candidates {
		label := repo.Name
		if repo.RepositoryURL != "" {
			label = fmt.Sprintf("%s (%s)", repo.Name, repo.RepositoryURL)
		}
		options[i] = tracker.SelectionOption{Label: label, Value: repo.ID}
	}

	if err := s.tracker.PostSelectionPrompt(ctx, sessionID, options); err != nil {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()

		if _, postErr := s.tracker.PostActivity(ctx, sessionID,
			"Could not post the repository selection prompt. Please add a routing label or a [repo=...] tag to the issue and retry."); postErr != nil {
			s.logger.Error("selection failure activity not posted", "session", sessionID, "error", postErr)
		}
		return fmt.Errorf("post selection prompt: %w", err)
	}
	return nil
}

// Pending reports whether a selection is awaiting user input.
func (s *Selector) Pending(sessionID string) (PendingSelection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[sessionID]
	return p, ok
}

// ResolveResponse consumes the pending selection for a session and matches
// the user's choice against each candidate's URL or name, falling back to
// the first candidate when nothing matches. The pending entry is removed
// on first call; a second call for the same session finds nothing pending
// and returns ok=false rather than re-resolving.
func (s *Selector) ResolveResponse(sessionID, choice string) (models.RepositoryConfig, string, bool) {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()
	if !ok || len(p.Candidates) == 0 {
		return models.RepositoryConfig{}, "", false
	}
	return matchChoice(p.Candidates, choice), p.IssueID, true
}

func matchChoice(candidates []models.RepositoryConfig, choice string) models.RepositoryConfig {
	for _, repo := range candidates {
		if repo.RepositoryURL != "" && containsFold(choice, repo.RepositoryURL) {
			return repo
		}
	}
	for _, repo := range candidates {
		if repo.Name != "" && containsFold(choice, repo.Name) {
			return repo
		}
	}
	return candidates[0]
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
