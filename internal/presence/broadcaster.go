package presence

import "github.com/samber/lo"

const (
	EventUserStatusChanged = "user_status_changed"
	EventUserTyping        = "user_typing"
)

type StatusChanged struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	Username string `json:"username"`
}

type Typing struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// Broadcaster propagates presence and typing changes over the registry.
// Delivery is best effort; the returned counts are the events actually
// queued.
type Broadcaster struct {
	registry *Registry
	rooms    *Rooms
}

func NewBroadcaster(registry *Registry, rooms *Rooms) *Broadcaster {
	return &Broadcaster{registry: registry, rooms: rooms}
}

// Announce tells every other registered connection that userID went online
// or offline.
func (b *Broadcaster) Announce(userID, username string, online bool) int {
	self, _ := b.registry.Lookup(userID)
	targets := lo.Filter(b.registry.Connections(), func(c Conn, _ int) bool {
		return self == nil || c.ID() != self.ID()
	})
	return emitAll(targets, EventUserStatusChanged, StatusChanged{
		UserID:   userID,
		IsOnline: online,
		Username: username,
	})
}

// TypingChanged relays a typing indicator to the conversation's subscribers,
// skipping the connection it came from and the typing user's own connection.
func (b *Broadcaster) TypingChanged(conversationID, userID, username string, typing bool, from Conn) int {
	self, _ := b.registry.Lookup(userID)
	targets := lo.Filter(b.rooms.Members(conversationID), func(c Conn, _ int) bool {
		if from != nil && c.ID() == from.ID() {
			return false
		}
		return self == nil || c.ID() != self.ID()
	})
	return emitAll(targets, EventUserTyping, Typing{
		UserID:   userID,
		Username: username,
		Typing:   typing,
	})
}

func emitAll(targets []Conn, event string, payload any) int {
	n := 0
	for _, c := range targets {
		if c.Emit(event, payload) {
			n++
		}
	}
	return n
}
