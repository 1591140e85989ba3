package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

// These tests need a live deployment; set CHATRELAY_TEST_MONGO_URI to run them.
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	uri := os.Getenv("CHATRELAY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHATRELAY_TEST_MONGO_URI not set")
	}

	now := time.UnixMilli(1_700_000_000_000)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "chatrelay_test_" + uuid.NewString()[:8]
	store, err := NewStore(ctx, config.DatabaseConfig{MongoURI: uri, MongoDB: dbName}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.db.Drop(context.Background())
		_ = store.Close()
	})
	require.NoError(t, store.Migrate(ctx))
	return store, &now
}

func TestMarkerKey(t *testing.T) {
	assert.Equal(t, "alice|all|", markerKey(" alice ", storage.ScopeAll, "x"))
	assert.Equal(t, "alice|private|bob", markerKey("alice", storage.ScopePrivate, "bob"))
}

func TestUsersRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &storage.User{Username: "alice", Password: "h"}))
	err := store.CreateUser(ctx, &storage.User{Username: "alice", Password: "h"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	_, err = store.GetUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.MarkOnline(ctx, "alice"))
	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.Online)

	require.NoError(t, store.ResetPresence(ctx))
	user, err = store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.Online)
}

func TestGroupHistoryWithClearMarkers(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	group, err := store.CreateGroup(ctx, "Team", "alice", []string{"bob"})
	require.NoError(t, err)

	ok, err := store.IsMember(ctx, group.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsMember(ctx, "not-an-object-id", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.SaveGroupMessage(ctx, group.ID, "alice", "old")
	require.NoError(t, err)
	*now = now.Add(time.Millisecond)

	_, err = store.SetClearedAtNow(ctx, "bob", storage.ScopeAll, "")
	require.NoError(t, err)
	*now = now.Add(time.Millisecond)

	_, err = store.SaveGroupMessage(ctx, group.ID, "alice", "new")
	require.NoError(t, err)

	bobView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeGroup, ChatID: group.ID, ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, "new", bobView[0].Content)

	aliceView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeGroup, ChatID: group.ID, ForUser: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, aliceView, 2)
}
