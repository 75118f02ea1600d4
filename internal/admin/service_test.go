package admin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpchat/internal/apperr"
	"mpchat/internal/call"
	"mpchat/internal/chat"
	"mpchat/internal/db"
	"mpchat/internal/db/dbtest"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
	"mpchat/internal/presence/presencetest"
	"mpchat/internal/session"
	"mpchat/internal/user"
)

type fixture struct {
	db       *db.Database
	svc      *Service
	users    *user.Repository
	chats    *chat.Repository
	resolver *chat.Resolver
	router   *chat.Router
	registry *presence.Registry
	rooms    *presence.Rooms
	sessions *session.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	log := logging.Discard()
	f := &fixture{
		db:       d,
		users:    user.NewRepository(d.Conn),
		chats:    chat.NewRepository(d.Conn),
		registry: presence.NewRegistry(),
		rooms:    presence.NewRooms(),
		sessions: session.NewMemoryStore(),
	}
	f.resolver = chat.NewResolver(d.Conn, f.users, log)
	f.router = chat.NewRouter(d.Conn, f.registry, f.rooms, log)
	f.svc = NewService(d.Conn, f.registry, f.rooms, f.sessions, log)
	return f
}

func (f *fixture) newUser(t *testing.T, name string) *user.User {
	t.Helper()
	u := &user.User{
		ID:          uuid.NewString(),
		Username:    name,
		DisplayName: name,
		Avatar:      user.DefaultAvatar,
		CreatedAt:   db.Now(),
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) connect(u *user.User) *presencetest.Conn {
	c := presencetest.NewConn()
	f.registry.Register(u.ID, c)
	return c
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Conn.QueryRow(query, args...).Scan(&n))
	return n
}

func TestDeleteUser_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, alice, bob := f.newUser(t, "mpc"), f.newUser(t, "alice"), f.newUser(t, "bob")

	dc, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convID := dc.Conversation.ID

	fromBob, err := f.router.Send(ctx, chat.SendRequest{ConversationID: convID, SenderID: bob.ID, Content: "hey"})
	require.NoError(t, err)
	fromAlice, err := f.router.Send(ctx, chat.SendRequest{
		ConversationID: convID, SenderID: alice.ID, Content: "hello", ReplyToID: &fromBob.Message.ID,
	})
	require.NoError(t, err)

	now := db.Now()
	require.NoError(t, call.NewRepository(f.db.Conn).Create(ctx, &call.Call{
		ID: uuid.NewString(), CallerID: alice.ID, ReceiverID: bob.ID, Type: call.TypeVoice, Status: call.StatusCalling, StartedAt: &now,
	}))

	require.NoError(t, f.sessions.Save(ctx, &session.Session{ID: "s1", UserID: bob.ID, ExpiresAt: time.Now().Add(time.Hour)}))

	aliceConn, bobConn := f.connect(alice), f.connect(bob)
	f.rooms.Join(bobConn, convID)

	require.NoError(t, f.svc.DeleteUser(ctx, admin.ID, bob.ID))

	_, err = f.users.GetByID(ctx, bob.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM messages WHERE sender_id = $1`, bob.ID))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM chat_participants WHERE user_id = $1`, bob.ID))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM calls`))

	kept, err := f.chats.GetMessage(ctx, fromAlice.Message.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.ReplyToID)

	deleted := bobConn.Named(EventAccountDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "Your account has been deleted by admin", deleted[0].Payload.(AccountDeleted).Message)
	assert.False(t, f.registry.IsOnline(bob.ID))
	assert.False(t, f.rooms.Contains(convID, bobConn.ID()))

	status := aliceConn.Named(presence.EventUserStatusChanged)
	require.Len(t, status, 1)
	assert.Equal(t, presence.StatusChanged{UserID: bob.ID, IsOnline: false, Username: "bob"}, status[0].Payload)

	_, err = f.sessions.Get(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDeleteUser_Refusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.newUser(t, "mpc")

	err := f.svc.DeleteUser(ctx, admin.ID, admin.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Cannot delete yourself", apperr.Message(err))

	err = f.svc.DeleteUser(ctx, admin.ID, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "User not found", apperr.Message(err))
}

func TestDeleteUser_Offline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin, alice := f.newUser(t, "mpc"), f.newUser(t, "alice")
	watcher := f.connect(admin)

	require.NoError(t, f.svc.DeleteUser(ctx, admin.ID, alice.ID))
	assert.Empty(t, watcher.Events())
}

func TestDeleteChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.newUser(t, "alice"), f.newUser(t, "bob"), f.newUser(t, "carol")

	dc, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	convID := dc.Conversation.ID
	_, err = f.router.Send(ctx, chat.SendRequest{ConversationID: convID, SenderID: alice.ID, Content: "bye"})
	require.NoError(t, err)

	aliceConn, carolConn := f.connect(alice), f.connect(carol)
	f.rooms.Join(aliceConn, convID)

	notified, err := f.svc.DeleteChat(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)

	events := aliceConn.Named(EventChatDeleted)
	require.Len(t, events, 1)
	assert.Equal(t, ChatDeleted{ChatID: convID}, events[0].Payload)
	assert.Empty(t, carolConn.Events())
	assert.Empty(t, f.rooms.Members(convID))

	_, err = f.chats.GetConversation(ctx, convID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, convID))

	// the pair can start over
	again, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, again.Created)

	_, err = f.svc.DeleteChat(ctx, "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.newUser(t, "alice"), f.newUser(t, "bob")

	dc, err := f.resolver.FindOrCreateDirect(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.router.Send(ctx, chat.SendRequest{ConversationID: dc.Conversation.ID, SenderID: bob.ID, Content: "x"})
	require.NoError(t, err)

	chats, err := f.svc.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, 1, chats[0].MessageCount)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, chats[0].Participants)

	users, err := f.svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
