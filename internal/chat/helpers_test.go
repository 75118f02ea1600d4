package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mpchat/internal/call"
	"mpchat/internal/db"
	"mpchat/internal/db/dbtest"
	"mpchat/internal/logging"
	"mpchat/internal/presence"
	"mpchat/internal/user"
)

type env struct {
	db       *db.Database
	users    *user.Repository
	repo     *Repository
	registry *presence.Registry
	rooms    *presence.Rooms
	resolver *Resolver
	router   *Router
	hub      *Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	d := dbtest.Open(t)
	log := logging.Discard()

	e := &env{
		db:       d,
		users:    user.NewRepository(d.Conn),
		repo:     NewRepository(d.Conn),
		registry: presence.NewRegistry(),
		rooms:    presence.NewRooms(),
	}
	e.resolver = NewResolver(d.Conn, e.users, log)
	e.router = NewRouter(d.Conn, e.registry, e.rooms, log)
	e.hub = NewHub(HubDeps{
		Registry:     e.registry,
		Rooms:        e.rooms,
		Resolver:     e.resolver,
		Router:       e.router,
		Calls:        call.NewSignaling(call.NewRepository(d.Conn), e.users, e.registry, log),
		Repo:         e.repo,
		Users:        e.users,
		Log:          log,
		StoreTimeout: 5 * time.Second,
	})
	return e
}

func (e *env) newUser(t *testing.T, name string) *user.User {
	t.Helper()
	u := &user.User{
		ID:          uuid.NewString(),
		Username:    name,
		DisplayName: name,
		Avatar:      user.DefaultAvatar,
		CreatedAt:   db.Now(),
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

func (e *env) directChat(t *testing.T, a, b *user.User) *Conversation {
	t.Helper()
	dc, err := e.resolver.FindOrCreateDirect(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	return dc.Conversation
}
