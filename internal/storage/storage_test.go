package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationIDIsOrderIndependent(t *testing.T) {
	assert.Equal(t, ConversationID("alice", "bob"), ConversationID("bob", "alice"))
	assert.Equal(t, "alice|Bob", ConversationID("Bob", "alice"))
	assert.Empty(t, ConversationID("", "bob"))
}

func TestConversationIDCaseCollision(t *testing.T) {
	// Names differing only by case compare equal, so argument order decides the key.
	assert.Equal(t, "Ann|ann", ConversationID("Ann", "ann"))
	assert.Equal(t, "ann|Ann", ConversationID("ann", "Ann"))
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"broadcast", ScopeBroadcast, false},
		{" Private ", ScopePrivate, false},
		{"GROUP", ScopeGroup, false},
		{"all", ScopeAll, false},
		{"", "", true},
		{"everything", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestMarkerChatID(t *testing.T) {
	assert.Empty(t, MarkerChatID(ScopeAll, "ignored"))
	assert.Empty(t, MarkerChatID(ScopeBroadcast, "ignored"))
	assert.Equal(t, "bob", MarkerChatID(ScopePrivate, " bob "))
	assert.Equal(t, "g1", MarkerChatID(ScopeGroup, "g1"))
}

func TestDedupeMembers(t *testing.T) {
	got := DedupeMembers("alice", []string{"bob", " bob", "", "carol", "alice"})
	assert.Equal(t, []string{"bob", "carol", "alice"}, got)

	got = DedupeMembers("alice", nil)
	assert.Equal(t, []string{"alice"}, got)
}
