// Package registry is the authoritative in-memory store of agent session
// state, transcripts, and parent/child relationships.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/models"
)

// Registry stores sessions, their transcript entries, and the parent/child
// session graph. Mutations are serialized per session id; operations on
// distinct sessions proceed fully in parallel.
type Registry struct {
	mu               sync.RWMutex
	sessions         map[string]*models.AgentSession
	entries          map[string][]models.SessionEntry
	childToParent    map[string]string
	parentToChildren map[string]map[string]struct{}
	locks            map[string]*sync.Mutex

	events notifier
	now    func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions:         make(map[string]*models.AgentSession),
		entries:          make(map[string][]models.SessionEntry),
		childToParent:    make(map[string]string),
		parentToChildren: make(map[string]map[string]struct{}),
		locks:            make(map[string]*sync.Mutex),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers an observer for registry events. Observers are
// invoked synchronously in mutation order.
func (r *Registry) Subscribe(fn func(Event)) {
	r.events.subscribe(fn)
}

// sessionLock returns the mutation lock for a session id, creating it on
// first use. Locks outlive their session so a concurrent mutation on a
// just-deleted id still serializes cleanly.
func (r *Registry) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// CreateSession stores a new session and emits sessionCreated.
func (r *Registry) CreateSession(session models.AgentSession) error {
	if session.ID == "" {
		return fmt.Errorf("create session: id is required")
	}
	l := r.sessionLock(session.ID)
	l.Lock()
	defer l.Unlock()

	now := r.now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusActive
	}

	r.mu.Lock()
	if _, exists := r.sessions[session.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("create session %s: %w", session.ID, ErrDuplicateSession)
	}
	stored := session
	r.sessions[session.ID] = &stored
	r.mu.Unlock()

	r.events.publish(Event{Kind: EventSessionCreated, SessionID: session.ID, Session: session})
	return nil
}

// GetSession returns a copy of the session, or ok=false if unknown.
func (r *Registry) GetSession(id string) (models.AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return models.AgentSession{}, false
	}
	return *s, true
}

// AllSessions returns copies of every session, ordered by creation time.
func (r *Registry) AllSessions() []models.AgentSession {
	r.mu.RLock()
	out := make([]models.AgentSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// FindByIssue returns the most recently updated non-terminal session for
// an issue id, if any.
func (r *Registry) FindByIssue(issueID string) (models.AgentSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *models.AgentSession
	for _, s := range r.sessions {
		if s.Issue == nil || s.Issue.IssueID != issueID || s.Status.Terminal() {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return models.AgentSession{}, false
	}
	return *best, true
}

// FindByExternalID returns the session with the given tracker-assigned id.
func (r *Registry) FindByExternalID(externalID string) (models.AgentSession, bool) {
	if externalID == "" {
		return models.AgentSession{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ExternalSessionID == externalID {
			return *s, true
		}
	}
	return models.AgentSession{}, false
}

// SessionUpdate is a shallow partial merged into a stored session.
// Nil fields are left untouched.
type SessionUpdate struct {
	Status            *models.SessionStatus
	ExternalSessionID *string
	Backend           *models.BackendRef
	Workspace         *models.Workspace
	Issue             *models.IssueContext
	Metadata          *models.SessionMetadata
}

// UpdateSession merges the partial into the stored session, bumps
// UpdatedAt, and emits sessionUpdated — plus sessionCompleted iff the
// merge transitions status into a terminal state.
func (r *Registry) UpdateSession(id string, update SessionUpdate) (models.AgentSession, error) {
	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return models.AgentSession{}, fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}

	wasTerminal := s.Status.Terminal()
	if update.Status != nil {
		s.Status = *update.Status
	}
	if update.ExternalSessionID != nil {
		s.ExternalSessionID = *update.ExternalSessionID
	}
	if update.Backend != nil {
		s.Backend = update.Backend
	}
	if update.Workspace != nil {
		s.Workspace = *update.Workspace
	}
	if update.Issue != nil {
		s.Issue = update.Issue
	}
	if update.Metadata != nil {
		s.Metadata = *update.Metadata
	}
	s.UpdatedAt = r.now()
	snapshot := *s
	r.mu.Unlock()

	r.events.publish(Event{Kind: EventSessionUpdated, SessionID: id, Session: snapshot, Update: &update})
	if !wasTerminal && snapshot.Status.Terminal() {
		r.events.publish(Event{Kind: EventSessionCompleted, SessionID: id, Session: snapshot})
	}
	return snapshot, nil
}

// DeleteSession removes the session, its entries, and every parent/child
// edge touching it, in both directions. Deleting an unknown id is a no-op.
func (r *Registry) DeleteSession(id string) {
	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	r.deleteLocked(id)
	r.mu.Unlock()
}

// deleteLocked removes one session and its edges. Caller holds r.mu.
func (r *Registry) deleteLocked(id string) {
	delete(r.sessions, id)
	delete(r.entries, id)

	if parent, ok := r.childToParent[id]; ok {
		delete(r.childToParent, id)
		if siblings := r.parentToChildren[parent]; siblings != nil {
			delete(siblings, id)
			if len(siblings) == 0 {
				delete(r.parentToChildren, parent)
			}
		}
	}
	if children := r.parentToChildren[id]; children != nil {
		for child := range children {
			delete(r.childToParent, child)
		}
		delete(r.parentToChildren, id)
	}
}

// AddEntry appends a transcript entry and bumps the session's UpdatedAt.
// Returns the index of the appended entry.
func (r *Registry) AddEntry(id string, entry models.SessionEntry) (int, error) {
	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, fmt.Errorf("add entry to %s: %w", id, ErrSessionNotFound)
	}
	if entry.Metadata != nil && entry.Metadata.Timestamp.IsZero() {
		entry.Metadata.Timestamp = r.now()
	}
	r.entries[id] = append(r.entries[id], entry)
	s.UpdatedAt = r.now()
	return len(r.entries[id]) - 1, nil
}

// EntryPatch is a targeted metadata patch for an appended entry.
// Content and type are immutable once appended.
type EntryPatch struct {
	ActivityID      *string
	ToolResultError *bool
	IsError         *bool
	DurationMS      *int64
	BackendError    *string
}

// UpdateEntry merges the patch into the entry's metadata and bumps the
// session's UpdatedAt.
func (r *Registry) UpdateEntry(id string, index int, patch EntryPatch) error {
	l := r.sessionLock(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("update entry in %s: %w", id, ErrSessionNotFound)
	}
	list := r.entries[id]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("update entry %d in %s: %w", index, id, ErrEntryIndexOutOfBounds)
	}

	entry := &list[index]
	if entry.Metadata == nil {
		entry.Metadata = &models.EntryMetadata{}
	}
	if patch.ActivityID != nil {
		entry.Metadata.ActivityID = *patch.ActivityID
	}
	if patch.ToolResultError != nil {
		entry.Metadata.ToolResultError = *patch.ToolResultError
	}
	if patch.IsError != nil {
		entry.Metadata.IsError = *patch.IsError
	}
	if patch.DurationMS != nil {
		entry.Metadata.DurationMS = *patch.DurationMS
	}
	if patch.BackendError != nil {
		entry.Metadata.BackendError = *patch.BackendError
	}
	s.UpdatedAt = r.now()
	return nil
}

// Entries returns a copy of a session's transcript. Unknown or empty
// sessions yield an empty slice, not an error.
func (r *Registry) Entries(id string) []models.SessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.entries[id]
	out := make([]models.SessionEntry, len(list))
	copy(out, list)
	return out
}

// SetParent records child → parent. A child has at most one parent;
// re-pointing moves the edge.
func (r *Registry) SetParent(childID, parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.childToParent[childID]; ok && prev != parentID {
		if siblings := r.parentToChildren[prev]; siblings != nil {
			delete(siblings, childID)
			if len(siblings) == 0 {
				delete(r.parentToChildren, prev)
			}
		}
	}
	r.childToParent[childID] = parentID
	if r.parentToChildren[parentID] == nil {
		r.parentToChildren[parentID] = make(map[string]struct{})
	}
	r.parentToChildren[parentID][childID] = struct{}{}
}

// ParentOf returns the parent session id of a child, if any.
func (r *Registry) ParentOf(childID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	parent, ok := r.childToParent[childID]
	return parent, ok
}

// ChildrenOf returns the child session ids of a parent, sorted.
func (r *Registry) ChildrenOf(parentID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	children := r.parentToChildren[parentID]
	out := make([]string, 0, len(children))
	for id := range children {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cleanup deletes every session whose UpdatedAt is older than maxAge,
// cascading entries and edges exactly as DeleteSession does. The removed
// sessions are returned so callers can reclaim their workspaces.
func (r *Registry) Cleanup(maxAge time.Duration) []models.AgentSession {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []models.AgentSession
	for _, s := range r.sessions {
		if s.UpdatedAt.Before(cutoff) {
			stale = append(stale, *s)
		}
	}
	for _, s := range stale {
		r.deleteLocked(s.ID)
	}
	return stale
}
