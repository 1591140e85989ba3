package server

import (
	"context"
	"fmt"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

// dispatch handles one authenticated request. It returns an error only when
// the session must end: the client asked to exit or its transport failed.
// Every other failure is answered on the wire.
func (a *App) dispatch(ctx context.Context, s *Session, req protocol.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("request panicked", "user", s.username, "type", req.Type(), "panic", fmt.Sprint(r))
			err = s.Send(panicReply(req))
		}
	}()

	switch r := req.(type) {
	case protocol.Exit:
		return errExit
	case protocol.Signup, protocol.Login:
		return s.Send(protocol.NewError("Already authenticated"))
	case protocol.GetUsers:
		return a.sendUsers(ctx, s)
	case protocol.GetGroups:
		return a.sendGroups(ctx, s)
	case protocol.GetBroadcastHistory:
		return a.handleBroadcastHistory(ctx, s)
	case protocol.GetPrivateHistory:
		return a.handlePrivateHistory(ctx, s, r)
	case protocol.GetGroupHistory:
		return a.handleGroupHistory(ctx, s, r)
	case protocol.Broadcast:
		return a.handleBroadcast(ctx, s, r)
	case protocol.Private:
		return a.handlePrivate(ctx, s, r)
	case protocol.Typing:
		return a.handleTyping(s, r)
	case protocol.CreateGroup:
		return a.handleCreateGroup(ctx, s, r)
	case protocol.GroupMessage:
		return a.handleGroupMessage(ctx, s, r)
	case protocol.ClearChat:
		return a.handleClearChat(ctx, s, r)
	case protocol.Unknown:
		return s.Send(protocol.NewError("Unknown type: " + r.Name))
	default:
		return s.Send(protocol.NewError("Unknown type: " + string(req.Type())))
	}
}

// panicReply keeps the reply type a client waits for on requests that have
// a dedicated failure message.
func panicReply(req protocol.Request) any {
	switch req.(type) {
	case protocol.ClearChat:
		return protocol.ClearFailed(clearServerError)
	case protocol.CreateGroup:
		return protocol.GroupCreateFailed("Failed to create group")
	default:
		return protocol.NewError("Internal server error")
	}
}

// failed logs a backend error and answers with a generic error message.
func (a *App) failed(s *Session, req protocol.RequestType, reply string, err error) error {
	a.logger.Error("request failed", "user", s.username, "type", req, "err", err)
	return s.Send(protocol.NewError(reply))
}
