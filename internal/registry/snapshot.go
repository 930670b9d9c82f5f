package registry

import (
	"fmt"

	"github.com/wardenhq/warden/internal/models"
)

// SnapshotVersion is the current snapshot document version.
const SnapshotVersion = 1

// Snapshot is the versioned persisted form of the registry. Live process
// handles never enter the registry, so every field serializes directly.
type Snapshot struct {
	Version          int                              `json:"version"`
	Sessions         map[string]models.AgentSession   `json:"sessions"`
	Entries          map[string][]models.SessionEntry `json:"entries"`
	ChildToParentMap map[string]string                `json:"childToParentMap"`
}

// Serialize captures the full registry state.
func (r *Registry) Serialize() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := &Snapshot{
		Version:          SnapshotVersion,
		Sessions:         make(map[string]models.AgentSession, len(r.sessions)),
		Entries:          make(map[string][]models.SessionEntry, len(r.entries)),
		ChildToParentMap: make(map[string]string, len(r.childToParent)),
	}
	for id, s := range r.sessions {
		snap.Sessions[id] = *s
	}
	for id, list := range r.entries {
		copied := make([]models.SessionEntry, len(list))
		copy(copied, list)
		snap.Entries[id] = copied
	}
	for child, parent := range r.childToParent {
		snap.ChildToParentMap[child] = parent
	}
	return snap
}

// Restore clears all existing state, then repopulates from the snapshot.
// There is no partial merge: prior state is fully replaced.
func (r *Registry) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore: snapshot is nil")
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("restore: unsupported snapshot version %d", snap.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*models.AgentSession, len(snap.Sessions))
	r.entries = make(map[string][]models.SessionEntry, len(snap.Entries))
	r.childToParent = make(map[string]string, len(snap.ChildToParentMap))
	r.parentToChildren = make(map[string]map[string]struct{})

	for id, s := range snap.Sessions {
		stored := s
		r.sessions[id] = &stored
	}
	for id, list := range snap.Entries {
		copied := make([]models.SessionEntry, len(list))
		copy(copied, list)
		r.entries[id] = copied
	}
	for child, parent := range snap.ChildToParentMap {
		r.childToParent[child] = parent
		if r.parentToChildren[parent] == nil {
			r.parentToChildren[parent] = make(map[string]struct{})
		}
		r.parentToChildren[parent][child] = struct{}{}
	}
	return nil
}
