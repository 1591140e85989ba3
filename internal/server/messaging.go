package server

import (
	"context"
	"strings"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

func (a *App) handleBroadcast(ctx context.Context, s *Session, req protocol.Broadcast) error {
	content := cleanContent(req.Content, a.cfg.Limits.MaxContent)
	if content == "" {
		return s.Send(protocol.NewError("Empty message"))
	}

	msg, err := a.store.SaveBroadcast(ctx, s.username, content)
	if err != nil {
		return a.failed(s, req.Type(), "Failed to send message", err)
	}

	out := protocol.NewBroadcastMsg(msg.Sender, msg.Content, msg.Timestamp)
	for _, e := range a.registry.Snapshot() {
		a.deliver(e.Session, out)
	}
	return nil
}

// handlePrivate persists first, then delivers if the peer is online. The
// sender is always acked with the delivery status.
func (a *App) handlePrivate(ctx context.Context, s *Session, req protocol.Private) error {
	limits := a.cfg.Limits
	to := cleanName(req.To, limits.MaxUsername)
	content := cleanContent(req.Content, limits.MaxContent)
	if to == "" || content == "" {
		return s.Send(protocol.NewError("Private needs: to + content"))
	}
	if to == s.username {
		return s.Send(protocol.NewError("Cannot message yourself"))
	}

	msg, err := a.store.SavePrivate(ctx, s.username, to, content)
	if err != nil {
		return a.failed(s, req.Type(), "Failed to send message", err)
	}

	target, online := a.registry.Get(to)
	if online {
		a.deliver(target, protocol.NewPrivateMsg(msg.Sender, to, msg.Content, msg.Timestamp))
	}
	return s.Send(protocol.NewAck(to, online))
}

// handleTyping forwards start/stop to an online peer. Invalid or undeliverable
// notifications are dropped without a reply.
func (a *App) handleTyping(s *Session, req protocol.Typing) error {
	to := cleanName(req.To, a.cfg.Limits.MaxUsername)
	state := strings.ToLower(strings.TrimSpace(req.State))
	if to == "" || to == s.username {
		return nil
	}
	if state != protocol.TypingStart && state != protocol.TypingStop {
		return nil
	}
	if target, ok := a.registry.Get(to); ok {
		a.deliver(target, protocol.NewTypingState(s.username, state))
	}
	return nil
}

func (a *App) handleBroadcastHistory(ctx context.Context, s *Session) error {
	entries, err := a.history(ctx, s, storage.ScopeBroadcast, "")
	if err != nil {
		return a.failed(s, protocol.RequestGetBroadcastHistory, "Failed to load history", err)
	}
	return s.Send(protocol.NewBroadcastHistory(entries))
}

func (a *App) handlePrivateHistory(ctx context.Context, s *Session, req protocol.GetPrivateHistory) error {
	with := cleanName(req.With, a.cfg.Limits.MaxUsername)
	if with == "" {
		return s.Send(protocol.NewError("Missing/invalid 'with' username"))
	}
	entries, err := a.history(ctx, s, storage.ScopePrivate, with)
	if err != nil {
		return a.failed(s, req.Type(), "Failed to load history", err)
	}
	return s.Send(protocol.NewPrivateHistory(with, entries))
}

// history loads the caller's visible tail of one chat.
func (a *App) history(ctx context.Context, s *Session, scope storage.Scope, chatID string) ([]protocol.HistoryEntry, error) {
	msgs, err := a.store.LoadHistory(ctx, storage.HistoryQuery{
		Scope:   scope,
		ChatID:  chatID,
		ForUser: s.username,
		Limit:   a.cfg.Limits.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, protocol.NewHistoryEntry(m.Sender, m.Content, m.Timestamp))
	}
	return entries, nil
}
