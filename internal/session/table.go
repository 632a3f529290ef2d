package session

import (
	"sync"

	"github.com/google/uuid"
)

// Table holds a client's live sessions keyed by an opaque session ID,
// replacing the original's per-operation "take the session out, use it,
// put it back" dance (SPEC_FULL.md §9, "Session ownership vs. async
// borrowing") with a conventional map-mutex pattern: sessions stay in the
// map, and a caller looks one up by ID instead of racing another caller for
// the same "taken-out" value. The mutex guards only the map itself: Get
// hands every caller the same shared *Client, and the table does not give
// any caller exclusive use of it.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Client

	activeMu sync.RWMutex
	active   string
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Client)}
}

// NextID returns a fresh, unique session ID. IDs are opaque strings, not
// meant to be parsed by callers.
func (t *Table) NextID() string {
	return uuid.NewString()
}

// Put registers a session under id, making it the active session if none
// is currently set.
func (t *Table) Put(id string, c *Client) {
	t.mu.Lock()
	t.sessions[id] = c
	t.mu.Unlock()

	t.activeMu.Lock()
	if t.active == "" {
		t.active = id
	}
	t.activeMu.Unlock()
}

// Get returns the session registered under id, or nil if none exists.
func (t *Table) Get(id string) *Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// Remove drops the session registered under id, clearing it as the active
// session if it was one.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()

	t.activeMu.Lock()
	if t.active == id {
		t.active = ""
	}
	t.activeMu.Unlock()
}

// SetActive designates id (which must already be registered) as the
// session UI commands default to when no explicit ID is given.
func (t *Table) SetActive(id string) {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	t.active = id
}

// Active returns the currently active session ID, or "" if none is set.
func (t *Table) Active() string {
	t.activeMu.RLock()
	defer t.activeMu.RUnlock()
	return t.active
}

// ActiveSession resolves the active session, or nil if none is set or it
// has since been removed.
func (t *Table) ActiveSession() *Client {
	id := t.Active()
	if id == "" {
		return nil
	}
	return t.Get(id)
}

// IDs returns every registered session ID in no particular order.
func (t *Table) IDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len reports how many sessions are currently registered.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
