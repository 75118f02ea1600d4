package presence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mpchat/internal/presence"
	"mpchat/internal/presence/presencetest"
)

func TestRooms_JoinLeave(t *testing.T) {
	rooms := presence.NewRooms()
	a := presencetest.NewConn()
	b := presencetest.NewConn()

	rooms.Join(a, "c1")
	rooms.Join(a, "c2")
	rooms.Join(b, "c1")
	rooms.Join(b, "c1")

	assert.Len(t, rooms.Members("c1"), 2)
	assert.Len(t, rooms.Members("c2"), 1)
	assert.True(t, rooms.Contains("c2", a.ID()))
	assert.False(t, rooms.Contains("c2", b.ID()))

	left := rooms.Leave(a)
	assert.ElementsMatch(t, []string{"c1", "c2"}, left)
	assert.Len(t, rooms.Members("c1"), 1)
	assert.Empty(t, rooms.Members("c2"))
	assert.False(t, rooms.Contains("c1", a.ID()))

	assert.Empty(t, rooms.Leave(a))
}

func TestRooms_Drop(t *testing.T) {
	rooms := presence.NewRooms()
	a := presencetest.NewConn()

	rooms.Join(a, "c1")
	rooms.Join(a, "c2")
	rooms.Drop("c1")

	assert.Empty(t, rooms.Members("c1"))
	assert.Equal(t, []string{"c2"}, rooms.Leave(a))
}
