package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mpchat/internal/apperr"
	"mpchat/internal/call"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
	"mpchat/internal/user"
)

// UserStore is what the hub needs from the user repository.
type UserStore interface {
	UserLookup
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

// Hub owns the set of live clients and turns their events into calls on the
// chat core.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	registry    *presence.Registry
	rooms       *presence.Rooms
	broadcaster *presence.Broadcaster
	resolver    *Resolver
	router      *Router
	calls       *call.Signaling
	repo        *Repository
	users       UserStore
	log         logging.Logger

	storeTimeout time.Duration
}

type HubDeps struct {
	Registry     *presence.Registry
	Rooms        *presence.Rooms
	Resolver     *Resolver
	Router       *Router
	Calls        *call.Signaling
	Repo         *Repository
	Users        UserStore
	Log          logging.Logger
	StoreTimeout time.Duration
}

const defaultStoreTimeout = 5 * time.Second

func NewHub(d HubDeps) *Hub {
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = defaultStoreTimeout
	}
	return &Hub{
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		registry:     d.Registry,
		rooms:        d.Rooms,
		broadcaster:  presence.NewBroadcaster(d.Registry, d.Rooms),
		resolver:     d.Resolver,
		router:       d.Router,
		calls:        d.Calls,
		repo:         d.Repo,
		users:        d.Users,
		log:          d.Log,
		storeTimeout: d.StoreTimeout,
	}
}

// Run tracks connected clients until ctx is cancelled, then closes them all.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}

		case <-ctx.Done():
			for client := range h.clients {
				client.close()
			}
			h.log.Info(context.Background(), "hub stopped", "clients", len(h.clients))
			return
		}
	}
}

// Register adds a freshly upgraded client. It reports false once the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave hands c back to Run for removal, or closes it directly once the hub
// has stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.close()
	}
}

// Dispatch handles one inbound frame from c. Failures go back to c only.
func (h *Hub) Dispatch(ctx context.Context, c presence.Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.reportError(ctx, c, "", apperr.Validation("Malformed event"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case EventAuthenticate:
		h.authenticate(ctx, c, env.Data)
		return
	case EventStartChat:
		err = h.startChat(ctx, c, env.Data)
	case EventJoinChat:
		err = h.joinChat(ctx, c, env.Data)
	case EventSendMessage:
		err = h.sendMessage(ctx, c, env.Data)
	case EventTypingStart:
		err = h.typing(ctx, c, env.Data, true)
	case EventTypingStop:
		err = h.typing(ctx, c, env.Data, false)
	case EventInitiateCall:
		err = h.initiateCall(ctx, c, env.Data)
	case EventCallResponse:
		err = h.callResponse(ctx, c, env.Data)
	case EventEndCall:
		err = h.endCall(ctx, c, env.Data)
	default:
		err = apperr.Validation("Unknown event")
	}
	if err != nil {
		h.reportError(ctx, c, env.Event, err)
	}
}

func (h *Hub) reportError(ctx context.Context, c presence.Conn, event string, err error) {
	if errors.Is(err, apperr.ErrPersistence) || apperr.Code(err) == "internal" {
		h.log.Error(ctx, "event failed", "event", event, "conn_id", c.ID(), "err", err)
	} else {
		h.log.Debug(ctx, "event rejected", "event", event, "conn_id", c.ID(), "err", err)
	}
	c.Emit(EventError, ErrorEvent{Code: apperr.Code(err), Message: apperr.Message(err), Event: event})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validate(v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("Malformed payload")
	}
	return apperr.Validate(v)
}

// tokenUser is the identity the connection was opened with.
func tokenUser(c presence.Conn) string {
	if cl, ok := c.(*Client); ok {
		return cl.UserID
	}
	return ""
}

// actor returns the authenticated user of c and checks that it matches the
// user id claimed in the payload.
func (h *Hub) actor(c presence.Conn, claimed string) (string, error) {
	uid, ok := h.registry.UserOf(c)
	if !ok {
		return "", apperr.Unauthorized("Not authenticated")
	}
	if claimed != uid {
		return "", apperr.Unauthorized("User ID does not match this connection")
	}
	return uid, nil
}

func (h *Hub) authenticate(ctx context.Context, c presence.Conn, data json.RawMessage) {
	fail := func(msg string) {
		c.Emit(EventAuthFailed, AuthFailed{Message: msg})
	}

	var p authenticatePayload
	if err := decode(data, &p); err != nil {
		fail("User ID required")
		return
	}
	if tu := tokenUser(c); tu != "" && tu != p.UserID {
		fail("User ID does not match session")
		return
	}

	u, err := h.users.GetByID(ctx, p.UserID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			h.log.Error(ctx, "authenticate lookup failed", "user_id", p.UserID, "err", err)
		}
		fail("User not found")
		return
	}

	if err := h.users.SetOnline(ctx, u.ID, true, db.Now()); err != nil {
		h.log.Error(ctx, "mark online failed", "user_id", u.ID, "err", err)
		fail("Authentication failed")
		return
	}

	// A superseded connection keeps its socket but no longer receives room
	// traffic.
	if prev := h.registry.Register(u.ID, c); prev != nil && prev.ID() != c.ID() {
		h.rooms.Leave(prev)
	}
	h.broadcaster.Announce(u.ID, u.Username, true)
	c.Emit(EventAuthSuccess, AuthSuccess{Message: "Authenticated successfully", User: summarize(u, true)})
	h.log.Info(ctx, "client authenticated", "user_id", u.ID, "conn_id", c.ID())
}

// disconnect clears presence for c. The durable flag only flips when c was
// still the user's current connection.
func (h *Hub) disconnect(c presence.Conn) {
	h.rooms.Leave(c)
	uid, ok := h.registry.Unregister(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	username := "Unknown"
	if u, err := h.users.GetByID(ctx, uid); err == nil {
		username = u.Username
	}
	if err := h.users.SetOnline(ctx, uid, false, db.Now()); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		h.log.Error(ctx, "mark offline failed", "user_id", uid, "err", err)
	}
	h.broadcaster.Announce(uid, username, false)
	h.log.Info(ctx, "client disconnected", "user_id", uid, "conn_id", c.ID())
}

func (h *Hub) startChat(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var p startChatPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if _, err := h.actor(c, p.CurrentUserID); err != nil {
		return err
	}

	dc, err := h.resolver.FindOrCreateDirect(ctx, p.CurrentUserID, p.TargetUserID)
	if err != nil {
		return err
	}

	c.Emit(EventChatStarted, ChatStarted{
		ConversationID: dc.Conversation.ID,
		OtherUser:      summarize(dc.OtherUser, h.registry.IsOnline(dc.OtherUser.ID)),
		Messages:       dc.Messages,
	})
	return nil
}

func (h *Hub) joinChat(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	uid, err := h.actor(c, p.UserID)
	if err != nil {
		return err
	}

	if _, err := h.repo.GetConversation(ctx, p.ConversationID); err != nil {
		return persistenceUnlessKind(err, "Failed to join chat")
	}
	ok, err := h.repo.IsParticipant(ctx, p.ConversationID, uid)
	if err != nil {
		return apperr.Persistence("Failed to join chat", err)
	}
	if !ok {
		return apperr.Unauthorized("Not a participant of this chat")
	}

	h.rooms.Join(c, p.ConversationID)
	for _, m := range h.rooms.Members(p.ConversationID) {
		m.Emit(EventUserJoined, UserJoined{UserID: uid, ConversationID: p.ConversationID})
	}
	return nil
}

func (h *Hub) sendMessage(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var req SendRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := h.actor(c, req.SenderID); err != nil {
		return err
	}
	_, err := h.router.Send(ctx, req)
	return err
}

func (h *Hub) typing(ctx context.Context, c presence.Conn, data json.RawMessage, typing bool) error {
	var p roomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	uid, err := h.actor(c, p.UserID)
	if err != nil {
		return err
	}

	username := ""
	if cl, ok := c.(*Client); ok {
		username = cl.Username
	} else if u, err := h.users.GetByID(ctx, uid); err == nil {
		username = u.Username
	}
	h.broadcaster.TypingChanged(p.ConversationID, uid, username, typing, c)
	return nil
}

func (h *Hub) initiateCall(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var req call.InitiateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := h.actor(c, req.CallerID); err != nil {
		return err
	}
	_, err := h.calls.Initiate(ctx, c, req)
	return err
}

func (h *Hub) callResponse(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var req call.RespondRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := h.actor(c, req.UserID); err != nil {
		return err
	}
	_, err := h.calls.Respond(ctx, req)
	return err
}

func (h *Hub) endCall(ctx context.Context, c presence.Conn, data json.RawMessage) error {
	var req call.EndRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if _, err := h.actor(c, req.UserID); err != nil {
		return err
	}
	_, err := h.calls.End(ctx, req)
	return err
}

func persistenceUnlessKind(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Persistence(msg, err)
}

var _ UserStore = (*user.Repository)(nil)
