package presence

import "sync"

// Rooms tracks conversation subscriptions. A connection may be subscribed
// to any number of conversations at once.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]Conn
	joined  map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[string]map[string]Conn),
		joined:  make(map[string]map[string]struct{}),
	}
}

func (r *Rooms) Join(c Conn, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[conversationID]
	if !ok {
		m = make(map[string]Conn)
		r.members[conversationID] = m
	}
	m[c.ID()] = c

	j, ok := r.joined[c.ID()]
	if !ok {
		j = make(map[string]struct{})
		r.joined[c.ID()] = j
	}
	j[conversationID] = struct{}{}
}

// Leave drops every subscription held by c and returns the conversations it
// was subscribed to.
func (r *Rooms) Leave(c Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.joined[c.ID()]
	delete(r.joined, c.ID())

	out := make([]string, 0, len(j))
	for convID := range j {
		out = append(out, convID)
		if m, ok := r.members[convID]; ok {
			delete(m, c.ID())
			if len(m) == 0 {
				delete(r.members, convID)
			}
		}
	}
	return out
}

// Drop removes a conversation and all its subscriptions.
func (r *Rooms) Drop(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.members[conversationID] {
		if j, ok := r.joined[connID]; ok {
			delete(j, conversationID)
			if len(j) == 0 {
				delete(r.joined, connID)
			}
		}
	}
	delete(r.members, conversationID)
}

// Members returns a snapshot of the connections subscribed to conversationID.
func (r *Rooms) Members(conversationID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.members[conversationID]
	out := make([]Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Rooms) Contains(conversationID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[conversationID][connID]
	return ok
}
