// Package presence tracks which users are reachable right now and which
// connections are viewing which conversations. Nothing here is persisted.
package presence

import "sync"

// Conn is a live connection handle. Emit must not block; it reports false
// when the event was dropped.
type Conn interface {
	ID() string
	Emit(event string, payload any) bool
}

// Registry maps user ids to their single active connection.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// Register binds userID to c, replacing any previous connection for that
// user. The replaced connection is returned but not notified, and it no
// longer counts as authenticated.
func (r *Registry) Register(userID string, c Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byConn[c.ID()]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == c.ID() {
			delete(r.byUser, prevUser)
		}
	}

	prev, had := r.byUser[userID]
	if had && prev.ID() != c.ID() {
		delete(r.byConn, prev.ID())
	} else {
		prev = nil
	}

	r.byUser[userID] = c
	r.byConn[c.ID()] = userID
	return prev
}

// Unregister drops c. It reports the owning user only when c was still that
// user's current connection, so a stale disconnect never evicts a newer one.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[c.ID()]
	if !ok {
		return "", false
	}
	delete(r.byConn, c.ID())

	cur, ok := r.byUser[userID]
	if !ok || cur.ID() != c.ID() {
		return "", false
	}
	delete(r.byUser, userID)
	return userID, true
}

// Remove forgets userID regardless of which connection it is bound to.
func (r *Registry) Remove(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	delete(r.byUser, userID)
	delete(r.byConn, c.ID())
	return c, true
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// UserOf returns the user c is authenticated as.
func (r *Registry) UserOf(c Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[c.ID()]
	return id, ok
}

// Connections returns a snapshot of every registered connection.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
