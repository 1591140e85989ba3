package server

import (
	"context"
	"errors"
	"strings"

	"github.com/fenggwsx/chatrelay/internal/auth"
	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

const kickReason = "Logged in from another session"

// authenticate runs the handshake. The first frame must be signup or login;
// anything else fails the connection. On success the session is registered,
// any previous session for the same user is kicked, and the initial lists
// are pushed.
func (a *App) authenticate(ctx context.Context, s *Session) bool {
	frame, err := s.conn.ReadFrame(ctx)
	if err != nil {
		return false
	}
	req, err := protocol.ParseRequest(frame)
	if err != nil {
		a.rejectAuth(s, "Bad auth request")
		return false
	}

	var (
		creds  protocol.Credentials
		signup bool
	)
	switch r := req.(type) {
	case protocol.Signup:
		creds, signup = r.Credentials, true
	case protocol.Login:
		creds = r.Credentials
	default:
		a.rejectAuth(s, "First message must be signup/login")
		return false
	}

	limits := a.cfg.Limits
	username := cleanName(creds.User, limits.MaxUsername)
	password := cleanName(creds.Pass, limits.MaxPassword)
	token := strings.TrimSpace(creds.Token)
	if username == "" || (password == "" && (signup || token == "")) {
		a.rejectAuth(s, "Bad auth request")
		return false
	}

	if err := a.verify(ctx, signup, username, password, token); err != nil {
		reason := "Invalid credentials"
		switch {
		case errors.Is(err, storage.ErrUserExists):
			reason = "Username already exists"
		case errors.Is(err, auth.ErrInvalidToken):
			reason = "Invalid or expired token"
		case !errors.Is(err, auth.ErrInvalidCredentials):
			a.logger.Error("auth backend error", "user", username, "err", err)
			reason = "Authentication failed"
		}
		a.logger.Warn("login failed", "user", username, "remote", s.RemoteAddr(), "signup", signup, "reason", reason)
		a.rejectAuth(s, reason)
		return false
	}

	issued, err := a.auth.IssueToken(username)
	if err != nil {
		a.logger.Warn("token issue failed", "user", username, "err", err)
		issued = ""
	}

	// Fan-out may find the session as soon as it is registered; holding the
	// send lock until the auth reply is written keeps that reply first.
	s.username = username
	s.sendMu.Lock()
	old, replaced := a.registry.Put(username, s)
	if err := a.store.MarkOnline(ctx, username); err != nil {
		a.logger.Error("mark online failed", "user", username, "err", err)
	}
	err = s.sendLocked(protocol.AuthOK(username, issued))
	s.sendMu.Unlock()

	if replaced {
		a.logger.Info("superseding session", "user", username, "old", old.id, "new", s.id)
		a.kick(old, kickReason)
	}
	if err != nil {
		return false
	}
	a.logger.Info("login success", "user", username, "remote", s.RemoteAddr(), "signup", signup)

	if a.sendUsers(ctx, s) != nil || a.sendGroups(ctx, s) != nil {
		return false
	}
	a.broadcastUserLists(ctx)
	return true
}

func (a *App) verify(ctx context.Context, signup bool, username, password, token string) error {
	switch {
	case signup:
		return a.auth.SignUp(ctx, username, password)
	case password != "":
		return a.auth.Login(ctx, username, password)
	default:
		return a.auth.LoginWithToken(ctx, username, token)
	}
}

func (a *App) rejectAuth(s *Session, reason string) {
	_ = s.Send(protocol.AuthFailed(reason))
}
