package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	store, err := NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "chat.db")}, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store, clock
}

func createUser(t *testing.T, store *Store, name string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.CreateUser(context.Background(), &storage.User{
		Username:  name,
		Password:  "hash",
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func contents(msgs []storage.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestUsersAndPresence(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	createUser(t, store, "alice")
	createUser(t, store, "bob")
	createUser(t, store, "carol")

	err := store.CreateUser(ctx, &storage.User{Username: "alice", Password: "x"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	names, err := store.AllUsernamesExcept(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, names)

	require.NoError(t, store.MarkOnline(ctx, "alice"))
	user, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.Online)

	require.NoError(t, store.MarkOffline(ctx, "alice"))
	user, err = store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, user.Online)
	assert.False(t, user.LastSeen.IsZero())

	require.NoError(t, store.MarkOnline(ctx, "bob"))
	require.NoError(t, store.ResetPresence(ctx))
	user, err = store.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, user.Online)
}

func TestBroadcastHistoryRespectsClearMarkers(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	_, err := store.SaveBroadcast(ctx, "alice", "one")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)

	first, err := store.SetClearedAtNow(ctx, "bob", storage.ScopeBroadcast, "")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)

	_, err = store.SaveBroadcast(ctx, "alice", "two")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)

	second, err := store.SetClearedAtNow(ctx, "bob", storage.ScopeBroadcast, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second, first)
	clock.Advance(time.Millisecond)

	_, err = store.SaveBroadcast(ctx, "alice", "three")
	require.NoError(t, err)

	bobView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeBroadcast, ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, contents(bobView))

	aliceView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeBroadcast, ForUser: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(aliceView))
}

func TestMessageAtCutoffIsCleared(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.SaveBroadcast(ctx, "alice", "same instant")
	require.NoError(t, err)
	_, err = store.SetClearedAtNow(ctx, "bob", storage.ScopeBroadcast, "")
	require.NoError(t, err)

	msgs, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeBroadcast, ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEffectiveClearedAtCombinesAll(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	private, err := store.SetClearedAtNow(ctx, "alice", storage.ScopePrivate, "bob")
	require.NoError(t, err)
	clock.Advance(5 * time.Millisecond)

	all, err := store.SetClearedAtNow(ctx, "alice", storage.ScopeAll, "ignored")
	require.NoError(t, err)
	assert.Greater(t, all, private)

	for _, tc := range []struct {
		scope  storage.Scope
		chatID string
	}{
		{storage.ScopeBroadcast, ""},
		{storage.ScopePrivate, "bob"},
		{storage.ScopePrivate, "carol"},
		{storage.ScopeGroup, "g-1"},
		{storage.ScopeAll, ""},
	} {
		got, err := store.EffectiveClearedAt(ctx, "alice", tc.scope, tc.chatID)
		require.NoError(t, err)
		assert.Equal(t, all, got, "%s/%s", tc.scope, tc.chatID)
	}

	clock.Advance(5 * time.Millisecond)
	later, err := store.SetClearedAtNow(ctx, "alice", storage.ScopeGroup, "g-1")
	require.NoError(t, err)
	got, err := store.EffectiveClearedAt(ctx, "alice", storage.ScopeGroup, "g-1")
	require.NoError(t, err)
	assert.Equal(t, later, got)

	other, err := store.EffectiveClearedAt(ctx, "bob", storage.ScopeGroup, "g-1")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestPrivateHistoryIsPerConversationAndPerUser(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	_, err := store.SavePrivate(ctx, "alice", "bob", "hi bob")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = store.SavePrivate(ctx, "bob", "alice", "hi alice")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	_, err = store.SavePrivate(ctx, "alice", "carol", "hi carol")
	require.NoError(t, err)

	bobView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopePrivate, ChatID: "alice", ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi bob", "hi alice"}, contents(bobView))

	clock.Advance(time.Millisecond)
	_, err = store.SetClearedAtNow(ctx, "alice", storage.ScopePrivate, "bob")
	require.NoError(t, err)

	aliceView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopePrivate, ChatID: "bob", ForUser: "alice", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, aliceView)

	bobView, err = store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopePrivate, ChatID: "alice", ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, bobView, 2)

	carolView, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopePrivate, ChatID: "alice", ForUser: "carol", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"hi carol"}, contents(carolView))
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := store.SaveBroadcast(ctx, "alice", c)
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	msgs, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeBroadcast, ForUser: "alice", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, contents(msgs))
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	team, err := store.CreateGroup(ctx, "Team", "alice", []string{"bob", "bob", " ", "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, team.ID)
	assert.Equal(t, []string{"bob", "alice"}, team.Members)

	_, err = store.CreateGroup(ctx, "Alpha", "carol", []string{"bob"})
	require.NoError(t, err)

	ok, err := store.IsMember(ctx, team.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsMember(ctx, team.ID, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	members, err := store.MembersOf(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "alice"}, members)

	bobGroups, err := store.GroupsFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobGroups, 2)
	assert.Equal(t, "Alpha", bobGroups[0].Name)
	assert.Equal(t, "Team", bobGroups[1].Name)

	_, err = store.SaveGroupMessage(ctx, team.ID, "alice", "standup")
	require.NoError(t, err)
	clock.Advance(time.Millisecond)

	history, err := store.LoadHistory(ctx, storage.HistoryQuery{Scope: storage.ScopeGroup, ChatID: team.ID, ForUser: "bob", Limit: 10})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].Sender)
	assert.Equal(t, team.ID, history[0].ChatID)
}

func TestLoadHistoryRejectsAllScope(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.LoadHistory(context.Background(), storage.HistoryQuery{Scope: storage.ScopeAll, ForUser: "alice", Limit: 1})
	assert.Error(t, err)
}
