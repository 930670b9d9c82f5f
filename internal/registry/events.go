package registry

import (
	"sync"

	"github.com/wardenhq/warden/internal/models"
)

// EventKind classifies registry notifications.
type EventKind string

const (
	EventSessionCreated   EventKind = "session_created"
	EventSessionUpdated   EventKind = "session_updated"
	EventSessionCompleted EventKind = "session_completed"
)

// Event is one registry notification. Session is a copy of the state
// after the mutation; Update carries the partial that produced it for
// session_updated events.
type Event struct {
	Kind      EventKind
	SessionID string
	Session   models.AgentSession
	Update    *SessionUpdate
}

// notifier delivers events to subscribers synchronously, in mutation
// order. An explicit observer list makes ordering and delivery guarantees
// visible instead of implied by a generic emitter.
type notifier struct {
	mu        sync.RWMutex
	observers []func(Event)
}

func (n *notifier) subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

func (n *notifier) publish(ev Event) {
	n.mu.RLock()
	observers := n.observers
	n.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}
