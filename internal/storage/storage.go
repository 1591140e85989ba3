package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("not found")
	// ErrUserExists is returned when a signup collides with an existing username.
	ErrUserExists = errors.New("user already exists")
)

// User represents a persisted account record.
type User struct {
	ID        string
	Username  string
	Password  string
	Online    bool
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a persisted chat line in one of the three delivery scopes.
type Message struct {
	ID        string
	Scope     Scope
	ChatID    string // conversation id for private, group id for group, empty for broadcast
	Sender    string
	Receiver  string // private only
	Content   string
	Timestamp int64 // unix milliseconds
}

// Group is a named, fixed set of members.
type Group struct {
	ID        string
	Name      string
	Members   []string
	CreatedBy string
	CreatedAt time.Time
}

// HistoryQuery selects the history visible to ForUser in one scope.
// ChatID is the peer username for private and the group id for group.
type HistoryQuery struct {
	Scope   Scope
	ChatID  string
	ForUser string
	Limit   int
}

// UserStore persists account credentials.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// UserDirectory answers presence and contact-list questions.
type UserDirectory interface {
	AllUsernamesExcept(ctx context.Context, username string) ([]string, error)
	MarkOnline(ctx context.Context, username string) error
	MarkOffline(ctx context.Context, username string) error
	ResetPresence(ctx context.Context) error
}

// MessageStore persists messages and serves per-user filtered history.
type MessageStore interface {
	SaveBroadcast(ctx context.Context, sender, content string) (Message, error)
	SavePrivate(ctx context.Context, sender, receiver, content string) (Message, error)
	SaveGroupMessage(ctx context.Context, groupID, sender, content string) (Message, error)
	// LoadHistory returns at most q.Limit of the most recent messages, oldest first,
	// excluding every message at or below the user's effective clear cutoff.
	LoadHistory(ctx context.Context, q HistoryQuery) ([]Message, error)
}

// GroupStore persists groups and answers membership questions.
type GroupStore interface {
	CreateGroup(ctx context.Context, name, creator string, members []string) (Group, error)
	IsMember(ctx context.Context, groupID, username string) (bool, error)
	MembersOf(ctx context.Context, groupID string) ([]string, error)
	GroupsFor(ctx context.Context, username string) ([]Group, error)
}

// ClearMarkerStore persists "clear for me" cutoffs. Timestamps are unix milliseconds.
type ClearMarkerStore interface {
	SetClearedAtNow(ctx context.Context, username string, scope Scope, chatID string) (int64, error)
	// EffectiveClearedAt returns max(cutoff(user, all), cutoff(user, scope, chatID)), 0 when neither exists.
	EffectiveClearedAt(ctx context.Context, username string, scope Scope, chatID string) (int64, error)
}

// Store defines persistence operations used by the server.
type Store interface {
	UserStore
	UserDirectory
	MessageStore
	GroupStore
	ClearMarkerStore

	Close() error
	Migrate(ctx context.Context) error
}

// ConversationID returns the order-independent key of the private thread between a and b.
// Ordering is case-insensitive, so names differing only by case share a thread.
func ConversationID(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	if strings.ToLower(a) <= strings.ToLower(b) {
		return a + "|" + b
	}
	return b + "|" + a
}

// MarkerChatID normalizes the chat id stored with a clear marker.
func MarkerChatID(scope Scope, chatID string) string {
	switch scope {
	case ScopeBroadcast, ScopeAll:
		return ""
	default:
		return strings.TrimSpace(chatID)
	}
}

// DedupeMembers returns members with blanks and duplicates removed and creator included.
func DedupeMembers(creator string, members []string) []string {
	seen := make(map[string]struct{}, len(members)+1)
	out := make([]string, 0, len(members)+1)
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if _, ok := seen[creator]; !ok && creator != "" {
		out = append(out, creator)
	}
	return out
}
