package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/fenggwsx/chatrelay/internal/protocol"
	"github.com/fenggwsx/chatrelay/internal/transport"
)

var (
	errSessionClosed = errors.New("session closed")
	errExit          = errors.New("client exit")
)

// Session is one client connection. The read loop runs on a single
// goroutine; Send may be called from any goroutine.
type Session struct {
	id       string
	app      *App
	conn     transport.Conn
	username string

	sendMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newSession(app *App, conn transport.Conn) *Session {
	return &Session{
		id:   uuid.NewString(),
		app:  app,
		conn: conn,
	}
}

// Username is empty until the handshake succeeds.
func (s *Session) Username() string {
	return s.username
}

// RemoteAddr reports the peer address of the underlying transport.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Send writes one message. A failed write closes the session.
func (s *Session) Send(v any) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendLocked(v)
}

// sendLocked is Send for callers already holding sendMu.
func (s *Session) sendLocked(v any) error {
	if s.closed.Load() {
		return errSessionClosed
	}
	frame, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(frame); err != nil {
		s.app.logger.Debug("send failed", "session", s.id, "user", s.username, "err", err)
		s.Close()
		return err
	}
	return nil
}

// Close releases the transport. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.conn.Close()
	})
}

func (s *Session) run(ctx context.Context) {
	reason := "closed"
	defer func() {
		s.app.teardown(ctx, s, reason)
	}()

	if !s.app.authenticate(ctx, s) {
		reason = "auth failed"
		return
	}

	for {
		frame, err := s.conn.ReadFrame(ctx)
		if err != nil {
			reason = readCloseReason(err)
			return
		}

		req, err := protocol.ParseRequest(frame)
		if err != nil {
			msg := "Malformed request"
			if errors.Is(err, protocol.ErrMissingType) {
				msg = "Missing type"
			}
			if s.Send(protocol.NewError(msg)) != nil {
				reason = "send failed"
				return
			}
			continue
		}

		if err := s.app.dispatch(ctx, s, req); err != nil {
			reason = "send failed"
			if errors.Is(err, errExit) {
				reason = "exit"
			}
			return
		}
	}
}

func readCloseReason(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "disconnected"
	case errors.Is(err, context.Canceled):
		return "shutdown"
	case errors.Is(err, protocol.ErrFrameTooLarge):
		return "frame too large"
	case errors.Is(err, net.ErrClosed):
		return "connection closed"
	default:
		return err.Error()
	}
}

// teardown runs once per session. Presence is released only while this
// session is still the registered one, so a superseded session never marks
// its replacement offline.
func (a *App) teardown(ctx context.Context, s *Session, reason string) {
	s.Close()

	user := s.username
	if user == "" {
		a.logger.Debug("connection closed", "session", s.id, "remote", s.RemoteAddr(), "reason", reason)
		return
	}
	if !a.registry.RemoveIf(user, s) {
		a.logger.Info("session superseded", "user", user, "session", s.id, "reason", reason)
		return
	}

	ctx, cancel := detached(ctx)
	defer cancel()
	if err := a.store.MarkOffline(ctx, user); err != nil {
		a.logger.Error("mark offline failed", "user", user, "err", err)
	}
	a.broadcastUserLists(ctx)
	a.logger.Info("session closed", "user", user, "remote", s.RemoteAddr(), "reason", reason)
}

// deliver sends to another user's session. Errors only affect that session.
func (a *App) deliver(target *Session, v any) {
	_ = target.Send(v)
}

func (a *App) kick(old *Session, reason string) {
	_ = old.Send(protocol.NewError(reason))
	old.Close()
}
