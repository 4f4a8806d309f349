package server

import "sync"

// Registry indexes open connections by connection id and by bound identity.
// A single RWMutex keeps the two maps consistent; every method is atomic on its
// own and none of them span a caller-visible transaction.
type Registry struct {
	mu             sync.RWMutex
	byConnectionID map[string]*Connection
	byIdentity     map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConnectionID: make(map[string]*Connection),
		byIdentity:     make(map[string]*Connection),
	}
}

// Add indexes c by its connection id.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConnectionID[c.id] = c
}

// Bind points appUserID at c and records the identity on the connection.
// An existing binding held by another connection is overwritten; that
// connection stays registered by id. It returns the previous holder, if any,
// and false when c has already been torn down.
func (r *Registry) Bind(appUserID string, c *Connection) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Teardown closes c before removing it, so checking under the lock keeps a
	// dying connection from leaving a stale identity entry behind.
	if !c.IsOpen() {
		return nil, false
	}

	// Rebinding c to a new identity releases the identity it held before.
	if old := c.AppUserID(); old != "" && old != appUserID && r.byIdentity[old] == c {
		delete(r.byIdentity, old)
	}

	c.setAppUserID(appUserID)
	previous := r.byIdentity[appUserID]
	r.byIdentity[appUserID] = c
	if previous == c {
		return nil, true
	}
	return previous, true
}

// Remove drops c from both indexes. The identity entry is only removed while it
// still points at c, so a newer binding from another connection survives.
// Removing an absent connection is a no-op; the result reports whether c was
// still registered.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	if cur, ok := r.byConnectionID[c.id]; ok && cur == c {
		delete(r.byConnectionID, c.id)
		removed = true
	}

	if id := c.AppUserID(); id != "" && r.byIdentity[id] == c {
		delete(r.byIdentity, id)
	}
	return removed
}

// Get returns the connection registered under connID.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byConnectionID[connID]
	return c, ok
}

// Lookup returns the connection currently bound to appUserID.
func (r *Registry) Lookup(appUserID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byIdentity[appUserID]
	return c, ok
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConnectionID)
}

// IdentityCount returns the number of bound identities.
func (r *Registry) IdentityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}

// Snapshot returns the open connections at the time of the call.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byConnectionID))
	for _, c := range r.byConnectionID {
		conns = append(conns, c)
	}
	return conns
}
