package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to REDIS_TEST_ADDR and skips when it is not set.
func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return NewRedisStore(rdb)
}

func newSession(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  "alice",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sess := newSession(uuid.NewString())

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
	assert.Equal(t, "alice", got.Username)

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, sess.ID))
}

func TestRedisStore_RevokeUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	a, b := newSession(userID), newSession(userID)
	other := newSession(uuid.NewString())
	for _, s := range []*Session{a, b, other} {
		require.NoError(t, store.Save(ctx, s))
	}

	require.NoError(t, store.RevokeUser(ctx, userID))

	for _, id := range []string{a.ID, b.ID} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err := store.Get(ctx, other.ID)
	assert.NoError(t, err)
}

func TestRedisStore_SaveExpired(t *testing.T) {
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}))
	sess := newSession("u1")
	sess.ExpiresAt = time.Now().Add(-time.Second)

	assert.Error(t, store.Save(context.Background(), sess))
}
