package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/backend"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/registry"
)

// feedbackTimeout bounds the detached delivery, covering a backend restart
// when the child has no live run.
const feedbackTimeout = 2 * time.Minute

// DeliverFeedback hands feedback from a parent session to a child session
// and returns as soon as delivery is dispatched. The child keeps running
// in the background; its completion is observed through its own result
// message. Delivery failures are logged against the child session only.
func (o *Orchestrator) DeliverFeedback(parentID, childID, text string) error {
	if text == "" {
		return fmt.Errorf("feedback text is empty")
	}
	child, ok := o.registry.GetSession(childID)
	if !ok {
		return fmt.Errorf("deliver feedback to %s: %w", childID, registry.ErrSessionNotFound)
	}
	if parent, ok := o.registry.ParentOf(childID); !ok || parent != parentID {
		return fmt.Errorf("session %s is not a child of %s", childID, parentID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), feedbackTimeout)
		defer cancel()
		if err := o.deliverToChild(ctx, child, text); err != nil {
			o.logger.Error("feedback delivery failed",
				"child", childID, "parent", parentID, "error", err)
			o.appendEntry(childID, models.SessionEntry{
				Type:    models.EntryTypeSystem,
				Content: "feedback delivery failed: " + err.Error(),
				Metadata: &models.EntryMetadata{
					IsError: true,
				},
			})
		}
	}()
	return nil
}

// deliverToChild records the feedback in the child's transcript and feeds
// it into the child's backend, restarting the backend from its recorded
// session id when no live run exists.
func (o *Orchestrator) deliverToChild(ctx context.Context, child models.AgentSession, text string) error {
	o.appendEntry(child.ID, models.SessionEntry{
		Type:     models.EntryTypeUser,
		Content:  text,
		Metadata: &models.EntryMetadata{},
	})

	o.mu.Lock()
	live, ok := o.runs[child.ID]
	o.mu.Unlock()
	if ok {
		return live.runner.Send(ctx, text)
	}

	if child.Backend == nil {
		return fmt.Errorf("child session has no backend to resume")
	}
	repo, found := o.repositoryForSession(child)
	if !found {
		return fmt.Errorf("no repository configuration for child session")
	}

	params := backend.StartParams{
		Backend:         child.Backend.Backend,
		WorkspacePath:   child.Workspace.Path,
		Prompt:          text,
		ResumeSessionID: child.Backend.SessionID,
	}
	if err := o.startBackend(ctx, child.ID, sessionIssueID(child), repo, params); err != nil {
		return err
	}
	active := models.SessionStatusActive
	if _, err := o.registry.UpdateSession(child.ID, registry.SessionUpdate{Status: &active}); err != nil {
		o.logger.Error("mark child active failed", "session", child.ID, "error", err)
	}
	return nil
}

// repositoryForSession recovers the repository a session belongs to via
// the live run, then the routing cache.
func (o *Orchestrator) repositoryForSession(session models.AgentSession) (models.RepositoryConfig, bool) {
	o.mu.Lock()
	r, live := o.runs[session.ID]
	o.mu.Unlock()
	if live {
		return o.router.Repository(r.repositoryID)
	}
	if session.Issue != nil {
		if repoID, ok := o.router.Cache().Get(session.Issue.IssueID); ok {
			return o.router.Repository(repoID)
		}
	}
	return models.RepositoryConfig{}, false
}
