// Package presencetest provides a recording presence.Conn for tests.
package presencetest

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Event struct {
	Name    string
	Payload any
}

// Conn records every event emitted to it.
type Conn struct {
	id string

	mu     sync.Mutex
	events []Event
	closed bool
}

func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Emit(event string, payload any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, Event{Name: event, Payload: payload})
	return true
}

// Close makes every later Emit fail, like a dead socket.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Named returns the events with the given name, in order.
func (c *Conn) Named(name string) []Event {
	return lo.Filter(c.Events(), func(e Event, _ int) bool { return e.Name == name })
}

func (c *Conn) Names() []string {
	return lo.Map(c.Events(), func(e Event, _ int) string { return e.Name })
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
