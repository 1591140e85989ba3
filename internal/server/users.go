package server

import (
	"context"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

func (a *App) sendUsers(ctx context.Context, s *Session) error {
	all, err := a.store.AllUsernamesExcept(ctx, s.username)
	if err != nil {
		return a.failed(s, protocol.RequestGetUsers, "Failed to load users", err)
	}
	return s.Send(protocol.NewUsers(all, without(a.registry.Usernames(), s.username)))
}

// broadcastUserLists pushes each online user their own view of the user
// list. The online set is a snapshot and may race with concurrent logins.
func (a *App) broadcastUserLists(ctx context.Context) {
	entries := a.registry.Snapshot()
	online := make([]string, len(entries))
	for i, e := range entries {
		online[i] = e.Username
	}

	for _, e := range entries {
		all, err := a.store.AllUsernamesExcept(ctx, e.Username)
		if err != nil {
			a.logger.Error("load users failed", "user", e.Username, "err", err)
			continue
		}
		a.deliver(e.Session, protocol.NewUsers(all, without(online, e.Username)))
	}
}

func (a *App) sendGroups(ctx context.Context, s *Session) error {
	msg, err := a.groupList(ctx, s.username)
	if err != nil {
		return a.failed(s, protocol.RequestGetGroups, "Failed to load groups", err)
	}
	return s.Send(msg)
}

func (a *App) groupList(ctx context.Context, username string) (protocol.Groups, error) {
	groups, err := a.store.GroupsFor(ctx, username)
	if err != nil {
		return protocol.Groups{}, err
	}
	infos := make([]protocol.GroupInfo, 0, len(groups))
	for _, g := range groups {
		infos = append(infos, protocol.GroupInfo{GroupID: g.ID, Name: g.Name})
	}
	return protocol.NewGroups(infos), nil
}

func without(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
