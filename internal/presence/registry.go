// Package presence tracks the single live session registered per username.
package presence

import (
	"sort"
	"sync"
)

// Entry is one registered user and its session.
type Entry[S comparable] struct {
	Username string
	Session  S
}

// Registry maps usernames to their active session. All methods are safe for
// concurrent use. Snapshots are point-in-time copies and may be stale by the
// time the caller fans out.
type Registry[S comparable] struct {
	mu       sync.RWMutex
	sessions map[string]S
}

// NewRegistry initializes an empty registry.
func NewRegistry[S comparable]() *Registry[S] {
	return &Registry[S]{sessions: make(map[string]S)}
}

// Put registers s under username, returning the session it replaced, if any.
func (r *Registry[S]) Put(username string, s S) (old S, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, replaced = r.sessions[username]
	r.sessions[username] = s
	if replaced && old == s {
		var zero S
		return zero, false
	}
	return old, replaced
}

// RemoveIf deletes username only while it still maps to s.
func (r *Registry[S]) RemoveIf(username string, s S) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[username]
	if !ok || current != s {
		return false
	}
	delete(r.sessions, username)
	return true
}

// Get returns the session registered for username.
func (r *Registry[S]) Get(username string) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[username]
	return s, ok
}

// Snapshot copies every registration, ordered by username.
func (r *Registry[S]) Snapshot() []Entry[S] {
	r.mu.RLock()
	entries := make([]Entry[S], 0, len(r.sessions))
	for name, s := range r.sessions {
		entries = append(entries, Entry[S]{Username: name, Session: s})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Username < entries[j].Username })
	return entries
}

// Usernames lists the registered usernames in order.
func (r *Registry[S]) Usernames() []string {
	entries := r.Snapshot()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Username
	}
	return names
}

// Len reports how many users are registered.
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
