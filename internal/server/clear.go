package server

import (
	"context"
	"strings"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

const clearServerError = "Clear failed (server error)"

// handleClearChat records a per-user visibility cutoff. Every failure,
// including backend errors, is reported as a failed clear_result and the
// session stays open.
func (a *App) handleClearChat(ctx context.Context, s *Session, req protocol.ClearChat) error {
	scope, err := storage.ParseScope(req.Scope)
	if err != nil {
		return s.Send(protocol.ClearFailed(capitalize(err.Error())))
	}

	result := protocol.ClearResult{Type: protocol.TypeClearResult, OK: true, Scope: string(scope)}
	var chatID string

	switch scope {
	case storage.ScopePrivate:
		with := cleanName(req.With, a.cfg.Limits.MaxUsername)
		if with == "" {
			return s.Send(protocol.ClearFailed("Missing/invalid 'with'"))
		}
		chatID, result.With = with, with
	case storage.ScopeGroup:
		groupID := strings.TrimSpace(req.GroupID)
		if groupID == "" {
			return s.Send(protocol.ClearFailed("Missing groupId"))
		}
		member, err := a.store.IsMember(ctx, groupID, s.username)
		if err != nil {
			a.logger.Error("clear chat failed", "user", s.username, "scope", scope, "err", err)
			return s.Send(protocol.ClearFailed(clearServerError))
		}
		if !member {
			return s.Send(protocol.ClearFailed("Not a member of this group"))
		}
		chatID, result.GroupID = groupID, groupID
	}

	clearedAt, err := a.store.SetClearedAtNow(ctx, s.username, scope, chatID)
	if err != nil {
		a.logger.Error("clear chat failed", "user", s.username, "scope", scope, "err", err)
		return s.Send(protocol.ClearFailed(clearServerError))
	}
	result.ClearedAt = clearedAt
	a.logger.Info("chat cleared", "user", s.username, "scope", scope, "chat", chatID, "cleared_at", clearedAt)
	return s.Send(result)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
