// Package orchestrator composes routing, the session registry, workspace
// provisioning, and backend adapters: inbound work-item events in,
// canonical transcript entries out.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/wardenhq/warden/internal/adapters"
	"github.com/wardenhq/warden/internal/backend"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
	"github.com/wardenhq/warden/internal/registry"
	"github.com/wardenhq/warden/internal/router"
	"github.com/wardenhq/warden/internal/tracker"
	"github.com/wardenhq/warden/internal/workspace"
)

// InboundEvent is a normalized work-item event from an issue tracker.
type InboundEvent struct {
	WorkspaceID     string
	IssueID         string
	IssueIdentifier string
	TeamKey         string
	TrackerID       string

	// ExternalSessionID is the tracker-assigned agent-session id, used to
	// key activity posting and interactive selection.
	ExternalSessionID string

	// Prompt is the instruction delivered to the backend.
	Prompt string

	// Backend overrides the configured default when set.
	Backend models.Backend

	// ParentSessionID marks this event as a sub-agent delegation.
	ParentSessionID string
}

// Options configures an Orchestrator.
type Options struct {
	DefaultBackend models.Backend
	MaxConcurrent  int64
	Logger         *slog.Logger
}

// run is the live half of one session: the process handle, its adapter,
// and the stream state. Runs never enter the registry.
type run struct {
	sessionID        string
	repositoryID     string
	issueID          string
	runner           backend.Runner
	adapter          protocol.Adapter
	cancel           context.CancelFunc
	backendSessionID string

	mu      sync.Mutex
	stopped bool
}

func (r *run) stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	_ = r.runner.Stop()
	r.cancel()
}

func (r *run) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Orchestrator dispatches inbound events to backend sessions and streams
// their canonical messages into the registry.
type Orchestrator struct {
	registry    *registry.Registry
	router      *router.Router
	selector    *router.Selector
	tracker     tracker.Client
	provisioner workspace.Provisioner
	factory     backend.Factory
	logger      *slog.Logger

	defaultBackend models.Backend
	sem            *semaphore.Weighted

	mu            sync.Mutex
	runs          map[string]*run         // registry session id → live run
	pendingEvents map[string]InboundEvent // external session id → event awaiting selection
}

// New wires an Orchestrator. The router's session-affinity probe is
// satisfied by the orchestrator itself.
func New(reg *registry.Registry, repos []models.RepositoryConfig, tc tracker.Client, prov workspace.Provisioner, factory backend.Factory, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.DefaultBackend == "" {
		opts.DefaultBackend = models.BackendClaude
	}

	o := &Orchestrator{
		registry:       reg,
		tracker:        tc,
		provisioner:    prov,
		factory:        factory,
		logger:         opts.Logger,
		defaultBackend: opts.DefaultBackend,
		sem:            semaphore.NewWeighted(opts.MaxConcurrent),
		runs:           make(map[string]*run),
		pendingEvents:  make(map[string]InboundEvent),
	}
	o.router = router.New(repos, tc, o, opts.Logger)
	o.selector = router.NewSelector(tc, opts.Logger)
	return o
}

// Router exposes the routing component (used by the API for diagnostics).
func (o *Orchestrator) Router() *router.Router { return o.router }

// RepositoryForIssue implements router.ActiveSessions: an issue with a
// live run stays on the repository that run started in.
func (o *Orchestrator) RepositoryForIssue(issueID string) (string, bool) {
	session, ok := o.registry.FindByIssue(issueID)
	if !ok {
		return "", false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, live := o.runs[session.ID]; live {
		return r.repositoryID, true
	}
	return "", false
}

// HandleEvent routes an inbound event and starts or resumes the session it
// targets. An ambiguous route elicits a user selection and returns with no
// session id; the flow resumes through HandleSelectionResponse.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev InboundEvent) (string, error) {
	defer o.recoverEvent(ev)

	res := o.router.Resolve(ctx, router.Event{
		WorkspaceID:     ev.WorkspaceID,
		IssueID:         ev.IssueID,
		TeamKey:         ev.TeamKey,
		IssueIdentifier: ev.IssueIdentifier,
	})

	switch res.Outcome {
	case router.OutcomeNone:
		return "", fmt.Errorf("no repository configured for workspace %q", ev.WorkspaceID)

	case router.OutcomeNeedsSelection:
		o.mu.Lock()
		o.pendingEvents[ev.ExternalSessionID] = ev
		o.mu.Unlock()
		if err := o.selector.Elicit(ctx, ev.ExternalSessionID, ev.IssueID, res.Candidates); err != nil {
			o.mu.Lock()
			delete(o.pendingEvents, ev.ExternalSessionID)
			o.mu.Unlock()
			return "", err
		}
		o.logger.Info("routing awaiting user selection",
			"issue", ev.IssueIdentifier, "candidates", len(res.Candidates))
		return "", nil
	}

	o.logger.Info("routed issue",
		"issue", ev.IssueIdentifier, "repository", res.Repository.Name, "method", res.Method)
	return o.startOrResume(ctx, *res.Repository, ev)
}

// HandleSelectionResponse consumes the pending selection for an external
// session id and dispatches the stashed event to the chosen repository.
func (o *Orchestrator) HandleSelectionResponse(ctx context.Context, externalSessionID, choice string) (string, error) {
	repo, issueID, ok := o.selector.ResolveResponse(externalSessionID, choice)
	if !ok {
		return "", fmt.Errorf("no pending selection for session %q", externalSessionID)
	}

	o.mu.Lock()
	ev, stashed := o.pendingEvents[externalSessionID]
	delete(o.pendingEvents, externalSessionID)
	o.mu.Unlock()
	if !stashed {
		ev = InboundEvent{IssueID: issueID, ExternalSessionID: externalSessionID}
	}

	o.router.Cache().Put(issueID, repo.ID)
	o.logger.Info("user selected repository", "issue", issueID, "repository", repo.Name)
	return o.startOrResume(ctx, repo, ev)
}

// startOrResume locates the session owning the issue or creates a new one,
// then ensures a live backend is processing the prompt.
func (o *Orchestrator) startOrResume(ctx context.Context, repo models.RepositoryConfig, ev InboundEvent) (string, error) {
	if existing, ok := o.registry.FindByIssue(ev.IssueID); ok && ev.IssueID != "" {
		return existing.ID, o.resume(ctx, existing, repo, ev.Prompt)
	}
	return o.create(ctx, repo, ev)
}

func (o *Orchestrator) create(ctx context.Context, repo models.RepositoryConfig, ev InboundEvent) (string, error) {
	sessionID := newSessionID()
	issue := &models.IssueContext{
		TrackerID:       ev.TrackerID,
		IssueID:         ev.IssueID,
		IssueIdentifier: ev.IssueIdentifier,
	}

	ws, err := o.provisioner.Create(ctx, *issue, repo)
	if err != nil {
		return "", fmt.Errorf("provision workspace: %w", err)
	}

	session := models.AgentSession{
		ID:                sessionID,
		ExternalSessionID: ev.ExternalSessionID,
		Status:            models.SessionStatusActive,
		Issue:             issue,
		Workspace:         ws,
	}
	if err := o.registry.CreateSession(session); err != nil {
		// No session exists for the cleanup sweep to cascade from, so the
		// worktree has to be reclaimed here.
		if rmErr := o.provisioner.Remove(ctx, ws); rmErr != nil {
			o.logger.Warn("reclaim workspace after create failure",
				"session", sessionID, "path", ws.Path, "error", rmErr)
		}
		return "", err
	}
	if ev.ParentSessionID != "" {
		o.registry.SetParent(sessionID, ev.ParentSessionID)
	}
	if ev.Prompt != "" {
		if _, err := o.registry.AddEntry(sessionID, models.SessionEntry{
			Type:     models.EntryTypeUser,
			Content:  ev.Prompt,
			Metadata: &models.EntryMetadata{},
		}); err != nil {
			o.logger.Error("record initial prompt failed", "session", sessionID, "error", err)
		}
	}

	params := backend.StartParams{
		Backend:       o.backendFor(ev),
		WorkspacePath: ws.Path,
		Prompt:        ev.Prompt,
	}
	if err := o.startBackend(ctx, sessionID, ev.IssueID, repo, params); err != nil {
		o.failSession(sessionID, err)
		return sessionID, err
	}
	return sessionID, nil
}

// resume feeds the prompt into an already-running backend, or restarts the
// backend against its recorded session id when no live run exists (for
// example after a snapshot restore).
func (o *Orchestrator) resume(ctx context.Context, session models.AgentSession, repo models.RepositoryConfig, prompt string) error {
	if prompt != "" {
		if _, err := o.registry.AddEntry(session.ID, models.SessionEntry{
			Type:     models.EntryTypeUser,
			Content:  prompt,
			Metadata: &models.EntryMetadata{},
		}); err != nil {
			o.logger.Error("record prompt failed", "session", session.ID, "error", err)
		}
	}

	o.mu.Lock()
	live, ok := o.runs[session.ID]
	o.mu.Unlock()
	if ok {
		if prompt == "" {
			return nil
		}
		if err := live.runner.Send(ctx, prompt); err != nil {
			return fmt.Errorf("send prompt to session %s: %w", session.ID, err)
		}
		return nil
	}

	params := backend.StartParams{
		Backend:       o.defaultBackend,
		WorkspacePath: session.Workspace.Path,
		Prompt:        prompt,
	}
	if session.Backend != nil {
		params.Backend = session.Backend.Backend
		params.ResumeSessionID = session.Backend.SessionID
	}
	if err := o.startBackend(ctx, session.ID, sessionIssueID(session), repo, params); err != nil {
		o.failSession(session.ID, err)
		return err
	}
	active := models.SessionStatusActive
	if _, err := o.registry.UpdateSession(session.ID, registry.SessionUpdate{Status: &active}); err != nil {
		o.logger.Error("mark session active failed", "session", session.ID, "error", err)
	}
	return nil
}

// startBackend acquires a concurrency slot, launches the backend, and
// begins streaming its events. The slot is released when the stream ends.
func (o *Orchestrator) startBackend(ctx context.Context, sessionID, issueID string, repo models.RepositoryConfig, params backend.StartParams) error {
	adapter, err := adapters.For(params.Backend)
	if err != nil {
		return err
	}
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire backend slot: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runner, err := o.factory.Start(runCtx, repo, params)
	if err != nil {
		cancel()
		o.sem.Release(1)
		return fmt.Errorf("start %s backend: %w", params.Backend, err)
	}

	r := &run{
		sessionID:        sessionID,
		repositoryID:     repo.ID,
		issueID:          issueID,
		runner:           runner,
		adapter:          adapter,
		cancel:           cancel,
		backendSessionID: params.ResumeSessionID,
	}
	o.mu.Lock()
	o.runs[sessionID] = r
	o.mu.Unlock()

	go o.streamLoop(r, params.Backend)
	return nil
}

// streamLoop drains one backend's native events, translates them, and
// applies the canonical messages to the registry strictly in emission
// order. Messages arriving after the run was stopped are dropped.
func (o *Orchestrator) streamLoop(r *run, backendName models.Backend) {
	defer o.sem.Release(1)
	defer func() {
		o.mu.Lock()
		delete(o.runs, r.sessionID)
		o.mu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("stream loop panic", "session", r.sessionID, "panic", p)
			o.failSession(r.sessionID, fmt.Errorf("stream loop panic: %v", p))
		}
	}()

	var turn assistantTurn
	for ev := range r.runner.Events() {
		if r.isStopped() {
			continue
		}

		if id := r.adapter.ExtractSessionID(ev); id != "" && id != r.backendSessionID {
			r.backendSessionID = id
			if ref, err := models.NewBackendRef(backendName, id); err == nil {
				if _, err := o.registry.UpdateSession(r.sessionID, registry.SessionUpdate{Backend: &ref}); err != nil {
					o.logger.Error("record backend ref failed", "session", r.sessionID, "error", err)
				}
			}
		}

		// Idle-signal backends synthesize their result from the last
		// assistant text; the final turn is usually still buffered in the
		// accumulator when the idle event arrives, so prefer it over the
		// last flushed turn.
		last := turn.lastText
		if turn.text.Len() > 0 {
			last = turn.text.String()
		}
		msg := r.adapter.Translate(ev, r.backendSessionID, last)
		if msg == nil {
			continue
		}
		o.apply(r, msg, &turn)
	}

	if !r.isStopped() {
		turn.flush(o, r.sessionID, "")
	}
	if err := r.runner.Err(); err != nil && !r.isStopped() {
		o.logger.Error("backend terminated with error", "session", r.sessionID, "error", err)
		o.failSession(r.sessionID, err)
		return
	}

	// A backend that exits without a result message did not finish its
	// work; leave an explicit marker rather than a silently open session.
	if session, ok := o.registry.GetSession(r.sessionID); ok && !session.Status.Terminal() && !r.isStopped() {
		o.failSession(r.sessionID, fmt.Errorf("backend exited without a result"))
	}
}

// assistantTurn accumulates streamed deltas sharing one message id into a
// single transcript entry, per the adapter contract.
type assistantTurn struct {
	messageID string
	text      strings.Builder
	lastText  string
}

// flush appends the accumulated turn as one assistant entry. nextID is the
// message id of the turn about to start ("" when none).
func (t *assistantTurn) flush(o *Orchestrator, sessionID, nextID string) {
	if t.text.Len() > 0 {
		text := t.text.String()
		t.lastText = text
		if _, err := o.registry.AddEntry(sessionID, models.SessionEntry{
			Type:     models.EntryTypeAssistant,
			Content:  text,
			Metadata: &models.EntryMetadata{},
		}); err != nil {
			o.logger.Error("append assistant turn failed", "session", sessionID, "error", err)
		}
	}
	t.text.Reset()
	t.messageID = nextID
}

// apply maps one canonical message onto registry state.
func (o *Orchestrator) apply(r *run, msg *protocol.Message, turn *assistantTurn) {
	sessionID := r.sessionID

	switch msg.Type {
	case protocol.MessageTypeSystem:
		if msg.Subtype != "init" {
			return
		}
		turn.flush(o, sessionID, "")
		o.mergeMetadata(sessionID, func(md *models.SessionMetadata) {
			if msg.Model != "" {
				md.Model = msg.Model
			}
			if len(msg.Tools) > 0 {
				md.Tools = msg.Tools
			}
		})

	case protocol.MessageTypeAssistant:
		if msg.MessageID != "" {
			// Streamed delta: same id extends the turn, a new id closes it.
			if msg.MessageID != turn.messageID {
				turn.flush(o, sessionID, msg.MessageID)
			}
			turn.text.WriteString(msg.Text())
			return
		}
		turn.flush(o, sessionID, "")
		o.applyAssistantBlocks(sessionID, msg, turn)

	case protocol.MessageTypeUser:
		turn.flush(o, sessionID, "")
		o.applyUserBlocks(sessionID, msg)

	case protocol.MessageTypeResult:
		turn.flush(o, sessionID, "")
		o.applyResult(r, msg)
	}
}

func (o *Orchestrator) applyAssistantBlocks(sessionID string, msg *protocol.Message, turn *assistantTurn) {
	for _, block := range msg.Content {
		switch block.Type {
		case protocol.BlockTypeText:
			if block.Text == "" {
				continue
			}
			turn.lastText = block.Text
			o.appendEntry(sessionID, models.SessionEntry{
				Type:    models.EntryTypeAssistant,
				Content: block.Text,
				Metadata: &models.EntryMetadata{
					ParentToolUseID: msg.ParentToolUseID,
				},
			})
		case protocol.BlockTypeToolUse:
			o.appendEntry(sessionID, models.SessionEntry{
				Type:    models.EntryTypeAssistant,
				Content: block.ToolName,
				Metadata: &models.EntryMetadata{
					ToolUseID:       block.ToolUseID,
					ToolName:        block.ToolName,
					ToolInput:       block.ToolInput,
					ParentToolUseID: msg.ParentToolUseID,
				},
			})
		}
	}
}

func (o *Orchestrator) applyUserBlocks(sessionID string, msg *protocol.Message) {
	for _, block := range msg.Content {
		switch block.Type {
		case protocol.BlockTypeToolResult:
			o.appendEntry(sessionID, models.SessionEntry{
				Type:    models.EntryTypeUser,
				Content: block.Content,
				Metadata: &models.EntryMetadata{
					ToolUseID:       block.ToolUseID,
					ToolResultError: block.IsError,
					ParentToolUseID: msg.ParentToolUseID,
				},
			})
		case protocol.BlockTypeText:
			if block.Text == "" {
				continue
			}
			o.appendEntry(sessionID, models.SessionEntry{
				Type:     models.EntryTypeUser,
				Content:  block.Text,
				Metadata: &models.EntryMetadata{},
			})
		}
	}
}

// applyResult records the terminal entry, folds usage/cost into session
// metadata, transitions status, and stops any children of a completing
// parent.
func (o *Orchestrator) applyResult(r *run, msg *protocol.Message) {
	sessionID := r.sessionID
	result := msg.Result
	if result == nil {
		return
	}

	content := result.FinalText
	isError := result.Subtype != protocol.ResultSuccess
	if content == "" && len(result.Errors) > 0 {
		content = strings.Join(result.Errors, "; ")
	}
	o.appendEntry(sessionID, models.SessionEntry{
		Type:    models.EntryTypeResult,
		Content: content,
		Metadata: &models.EntryMetadata{
			IsError:      isError,
			DurationMS:   result.DurationMS,
			BackendError: strings.Join(result.Errors, "; "),
		},
	})

	o.mergeMetadata(sessionID, func(md *models.SessionMetadata) {
		md.Usage.Add(result.Usage)
		md.CostUSD += result.CostUSD
	})

	// Non-fatal errors surface in the transcript but leave the session
	// running only if the backend keeps emitting; a result is terminal.
	status := models.SessionStatusComplete
	if isError {
		status = models.SessionStatusError
	}
	if _, err := o.registry.UpdateSession(sessionID, registry.SessionUpdate{Status: &status}); err != nil {
		o.logger.Error("mark session terminal failed", "session", sessionID, "error", err)
	}
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	for _, childID := range o.registry.ChildrenOf(sessionID) {
		if err := o.StopSession(childID); err != nil {
			o.logger.Warn("stop child session failed", "parent", sessionID, "child", childID, "error", err)
		}
	}
}

// StopSession terminates a session's backend and marks the session
// complete. Entries delivered after the stop are dropped by the stream
// loop. Stopping a session with no live run only transitions its status.
func (o *Orchestrator) StopSession(sessionID string) error {
	session, ok := o.registry.GetSession(sessionID)
	if !ok {
		return fmt.Errorf("stop session %s: %w", sessionID, registry.ErrSessionNotFound)
	}

	o.mu.Lock()
	r, live := o.runs[sessionID]
	o.mu.Unlock()
	if live {
		r.stop()
	}

	if !session.Status.Terminal() {
		status := models.SessionStatusComplete
		if _, err := o.registry.UpdateSession(sessionID, registry.SessionUpdate{Status: &status}); err != nil {
			return err
		}
	}
	o.logger.Info("session stopped", "session", sessionID)
	return nil
}

// Shutdown stops every live run. Session statuses are left as-is so a
// restored snapshot can resume them.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	runs := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.Unlock()
	for _, r := range runs {
		r.stop()
	}
}

// SnapshotSink persists registry snapshots.
type SnapshotSink interface {
	Save(ctx context.Context, snap *registry.Snapshot) error
}

// Maintain runs the periodic cleanup sweep and snapshot persist until the
// context is cancelled.
func (o *Orchestrator) Maintain(ctx context.Context, interval, retention time.Duration, sink SnapshotSink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := o.registry.Cleanup(retention); len(removed) > 0 {
				o.logger.Info("cleanup sweep removed sessions", "count", len(removed))
				for _, session := range removed {
					if err := o.provisioner.Remove(ctx, session.Workspace); err != nil {
						o.logger.Warn("reclaim workspace failed",
							"session", session.ID, "path", session.Workspace.Path, "error", err)
					}
				}
			}
			if sink != nil {
				if err := sink.Save(ctx, o.registry.Serialize()); err != nil {
					o.logger.Error("snapshot persist failed", "error", err)
				}
			}
		}
	}
}

func (o *Orchestrator) backendFor(ev InboundEvent) models.Backend {
	if ev.Backend != "" {
		return ev.Backend
	}
	return o.defaultBackend
}

// mergeMetadata applies fn to a copy of the session's metadata and writes
// it back through the registry's per-session lock.
func (o *Orchestrator) mergeMetadata(sessionID string, fn func(*models.SessionMetadata)) {
	session, ok := o.registry.GetSession(sessionID)
	if !ok {
		return
	}
	md := session.Metadata
	fn(&md)
	if _, err := o.registry.UpdateSession(sessionID, registry.SessionUpdate{Metadata: &md}); err != nil {
		o.logger.Error("merge session metadata failed", "session", sessionID, "error", err)
	}
}

func (o *Orchestrator) appendEntry(sessionID string, entry models.SessionEntry) {
	if _, err := o.registry.AddEntry(sessionID, entry); err != nil {
		o.logger.Error("append entry failed", "session", sessionID, "type", entry.Type, "error", err)
	}
}

// failSession records a backend failure in the transcript and transitions
// the session to error.
func (o *Orchestrator) failSession(sessionID string, cause error) {
	o.appendEntry(sessionID, models.SessionEntry{
		Type:    models.EntryTypeResult,
		Content: cause.Error(),
		Metadata: &models.EntryMetadata{
			IsError:      true,
			BackendError: cause.Error(),
		},
	})
	status := models.SessionStatusError
	if _, err := o.registry.UpdateSession(sessionID, registry.SessionUpdate{Status: &status}); err != nil {
		o.logger.Error("mark session errored failed", "session", sessionID, "error", err)
	}
}

// recoverEvent keeps a panicking event handler from taking down the
// daemon.
func (o *Orchestrator) recoverEvent(ev InboundEvent) {
	if p := recover(); p != nil {
		o.logger.Error("event handling panic", "issue", ev.IssueIdentifier, "panic", p)
	}
}

func sessionIssueID(session models.AgentSession) string {
	if session.Issue == nil {
		return ""
	}
	return session.Issue.IssueID
}

// newSessionID generates a ULID session id. A variable so tests can pin
// ids.
var newSessionID = func() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}
