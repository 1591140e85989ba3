package storage

import (
	"fmt"
	"strings"
)

// Scope names a visibility domain for history queries and clear markers.
type Scope string

const (
	ScopeBroadcast Scope = "broadcast"
	ScopePrivate   Scope = "private"
	ScopeGroup     Scope = "group"
	ScopeAll       Scope = "all"
)

// ParseScope accepts the four scope names case-insensitively.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	switch scope {
	case ScopeBroadcast, ScopePrivate, ScopeGroup, ScopeAll:
		return scope, nil
	case "":
		return "", fmt.Errorf("missing scope")
	default:
		return "", fmt.Errorf("invalid scope: %s", s)
	}
}
