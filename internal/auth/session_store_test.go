package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lineauth/internal/auth/line"
	"github.com/charlesng35/lineauth/internal/cache"
	"github.com/charlesng35/lineauth/internal/database/testutil"
)

var _ line.Session = (*Session)(nil)

func newTestSessionStore(t *testing.T) (*SessionStore, cache.Store) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	backing := cache.NewDatabaseStore(db)

	store, err := NewSessionStore(backing, time.Hour)
	require.NoError(t, err)
	return store, backing
}

func TestSessionStoreRoundTrip(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	sess, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.True(t, sess.IsNew())
	require.NotEmpty(t, sess.ID())

	sess.Set(line.SessionKeyState, "abc")
	sess.Set("flash", "hello")
	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Load(ctx, sess.ID())
	require.NoError(t, err)
	require.False(t, loaded.IsNew())
	require.Equal(t, "abc", loaded.Get(line.SessionKeyState))
	require.Equal(t, "hello", loaded.Pop("flash"))
	require.Empty(t, loaded.Get("flash"))
	require.NoError(t, store.Save(ctx, loaded))

	again, err := store.Load(ctx, sess.ID())
	require.NoError(t, err)
	require.Empty(t, again.Get("flash"))
	require.Equal(t, "abc", again.Get(line.SessionKeyState))
}

func TestSessionStoreUnknownIDStartsFresh(t *testing.T) {
	store, _ := newTestSessionStore(t)

	sess, err := store.Load(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.True(t, sess.IsNew())
	require.NotEqual(t, "does-not-exist", sess.ID())
}

func TestSessionStoreEmptySessionNotPersisted(t *testing.T) {
	store, backing := newTestSessionStore(t)
	ctx := context.Background()

	sess, err := store.Load(ctx, "")
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, store.Save(ctx, sess))

	sess.Delete("k")
	require.NoError(t, store.Save(ctx, sess))

	_, found, err := backing.Get(ctx, sessionKeyPrefix+sess.ID())
	require.NoError(t, err)
	require.False(t, found)
}

func TestSessionStoreRegenerate(t *testing.T) {
	store, backing := newTestSessionStore(t)
	ctx := context.Background()

	sess, err := store.Load(ctx, "")
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, store.Save(ctx, sess))
	oldID := sess.ID()

	loaded, err := store.Load(ctx, oldID)
	require.NoError(t, err)
	require.NoError(t, store.Regenerate(loaded))
	require.NotEqual(t, oldID, loaded.ID())
	require.NoError(t, store.Save(ctx, loaded))

	_, found, err := backing.Get(ctx, sessionKeyPrefix+oldID)
	require.NoError(t, err)
	require.False(t, found)

	renewed, err := store.Load(ctx, loaded.ID())
	require.NoError(t, err)
	require.Equal(t, "v", renewed.Get("k"))
}

func TestSessionStoreDestroy(t *testing.T) {
	store, _ := newTestSessionStore(t)
	ctx := context.Background()

	sess, err := store.Load(ctx, "")
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, store.Save(ctx, sess))

	require.NoError(t, store.Destroy(ctx, sess))
	require.Empty(t, sess.Get("k"))

	loaded, err := store.Load(ctx, sess.ID())
	require.NoError(t, err)
	require.True(t, loaded.IsNew())
}

func TestNewSessionStoreRequiresBackend(t *testing.T) {
	_, err := NewSessionStore(nil, 0)
	require.Error(t, err)
}
