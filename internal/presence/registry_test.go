package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct{ id int }

func TestPutReplacesAndReturnsOld(t *testing.T) {
	reg := NewRegistry[*fakeSession]()
	first, second := &fakeSession{1}, &fakeSession{2}

	_, replaced := reg.Put("alice", first)
	assert.False(t, replaced)

	old, replaced := reg.Put("alice", second)
	require.True(t, replaced)
	assert.Same(t, first, old)

	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, reg.Len())
}

func TestPutSameSessionIsNotAReplacement(t *testing.T) {
	reg := NewRegistry[*fakeSession]()
	s := &fakeSession{1}
	reg.Put("alice", s)

	old, replaced := reg.Put("alice", s)
	assert.False(t, replaced)
	assert.Nil(t, old)
}

func TestRemoveIfIgnoresSupersededSession(t *testing.T) {
	reg := NewRegistry[*fakeSession]()
	stale, fresh := &fakeSession{1}, &fakeSession{2}
	reg.Put("alice", stale)
	reg.Put("alice", fresh)

	assert.False(t, reg.RemoveIf("alice", stale))
	got, ok := reg.Get("alice")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, reg.RemoveIf("alice", fresh))
	_, ok = reg.Get("alice")
	assert.False(t, ok)
	assert.False(t, reg.RemoveIf("alice", fresh))
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	reg := NewRegistry[*fakeSession]()
	reg.Put("carol", &fakeSession{3})
	reg.Put("alice", &fakeSession{1})
	reg.Put("bob", &fakeSession{2})

	snap := reg.Snapshot()
	reg.RemoveIf("bob", snap[1].Session)

	require.Len(t, snap, 3)
	assert.Equal(t, "bob", snap[1].Username)
	assert.Equal(t, []string{"alice", "carol"}, reg.Usernames())
}

func TestConcurrentLoginAndDisconnect(t *testing.T) {
	reg := NewRegistry[*fakeSession]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("user%d", i%5)
		s := &fakeSession{i}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Put(name, s)
			_ = reg.Snapshot()
			reg.RemoveIf(name, s)
		}()
	}
	wg.Wait()

	for _, e := range reg.Snapshot() {
		got, ok := reg.Get(e.Username)
		require.True(t, ok)
		assert.Same(t, e.Session, got)
	}
	assert.LessOrEqual(t, reg.Len(), 5)
}
