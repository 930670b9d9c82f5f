package router

import "sync"

// Cache maps issue ids to resolved repository ids so routing stays stable
// across repeated events for the same issue, even if labels change
// mid-conversation. Concurrent first-time writes for a new issue may
// race; last writer wins, which is acceptable since routing is meant to
// be stable, not linearizable.
type Cache struct {
	mu     sync.RWMutex
	routes map[string]string
}

// NewCache creates an empty routing cache.
func NewCache() *Cache {
	return &Cache{routes: make(map[string]string)}
}

// Get returns the cached repository id for an issue.
func (c *Cache) Get(issueID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.routes[issueID]
	return id, ok
}

// Put records the resolved repository for an issue.
func (c *Cache) Put(issueID, repositoryID string) {
	if issueID == "" || repositoryID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[issueID] = repositoryID
}
