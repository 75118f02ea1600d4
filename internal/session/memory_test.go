package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, b := newSession("u1"), newSession("u1")
	other := newSession("u2")
	for _, s := range []*Session{a, b, other} {
		require.NoError(t, store.Save(ctx, s))
	}

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, store.Delete(ctx, a.ID))
	_, err = store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.RevokeUser(ctx, "u1"))
	_, err = store.Get(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	s := newSession("u1")
	s.ExpiresAt = now.Add(time.Second)
	require.NoError(t, store.Save(context.Background(), s))

	store.now = func() time.Time { return now.Add(2 * time.Second) }
	_, err := store.Get(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
