package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

func (a *App) handleCreateGroup(ctx context.Context, s *Session, req protocol.CreateGroup) error {
	limits := a.cfg.Limits
	name := cleanName(req.Name, limits.MaxGroupName)
	if name == "" {
		return s.Send(protocol.GroupCreateFailed("Invalid group name"))
	}

	requested := make([]string, 0, len(req.Members))
	for _, m := range req.Members {
		if m = cleanName(m, limits.MaxUsername); m != "" {
			requested = append(requested, m)
		}
	}
	if n := len(storage.DedupeMembers(s.username, requested)); n > limits.MaxGroupMembers {
		return s.Send(protocol.GroupCreateFailed(fmt.Sprintf("Too many members (%d > %d)", n, limits.MaxGroupMembers)))
	}

	group, err := a.store.CreateGroup(ctx, name, s.username, requested)
	if err != nil {
		a.logger.Error("create group failed", "user", s.username, "name", name, "err", err)
		return s.Send(protocol.GroupCreateFailed("Failed to create group"))
	}
	a.logger.Info("group created", "user", s.username, "group", group.ID, "members", len(group.Members))

	if err := s.Send(protocol.GroupCreatedOK(group.ID, group.Name)); err != nil {
		return err
	}
	for _, member := range group.Members {
		target, ok := a.registry.Get(member)
		if !ok {
			continue
		}
		list, err := a.groupList(ctx, member)
		if err != nil {
			a.logger.Error("load groups failed", "user", member, "err", err)
			continue
		}
		a.deliver(target, list)
	}
	return nil
}

// requireMember answers non-members with an error. ok is false when the
// request must stop; err is set only if replying failed.
func (a *App) requireMember(ctx context.Context, s *Session, kind protocol.RequestType, groupID string) (ok bool, err error) {
	member, err := a.store.IsMember(ctx, groupID, s.username)
	if err != nil {
		return false, a.failed(s, kind, "Failed to check group membership", err)
	}
	if !member {
		return false, s.Send(protocol.NewError("Not a member of this group"))
	}
	return true, nil
}

func (a *App) handleGroupHistory(ctx context.Context, s *Session, req protocol.GetGroupHistory) error {
	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		return s.Send(protocol.NewError("Missing groupId"))
	}
	if ok, err := a.requireMember(ctx, s, req.Type(), groupID); !ok {
		return err
	}

	entries, err := a.history(ctx, s, storage.ScopeGroup, groupID)
	if err != nil {
		return a.failed(s, req.Type(), "Failed to load history", err)
	}
	return s.Send(protocol.NewGroupHistory(groupID, entries))
}

// handleGroupMessage persists the message and fans it out to online members only.
func (a *App) handleGroupMessage(ctx context.Context, s *Session, req protocol.GroupMessage) error {
	groupID := strings.TrimSpace(req.GroupID)
	content := cleanContent(req.Content, a.cfg.Limits.MaxContent)
	if groupID == "" || content == "" {
		return s.Send(protocol.NewError("Group message needs: groupId + content"))
	}
	if ok, err := a.requireMember(ctx, s, req.Type(), groupID); !ok {
		return err
	}

	msg, err := a.store.SaveGroupMessage(ctx, groupID, s.username, content)
	if err != nil {
		return a.failed(s, req.Type(), "Failed to send message", err)
	}
	members, err := a.store.MembersOf(ctx, groupID)
	if err != nil {
		return a.failed(s, req.Type(), "Message saved but delivery failed", err)
	}

	out := protocol.NewGroupMsg(groupID, msg.Sender, msg.Content, msg.Timestamp)
	for _, member := range members {
		if target, ok := a.registry.Get(member); ok {
			a.deliver(target, out)
		}
	}
	return nil
}
