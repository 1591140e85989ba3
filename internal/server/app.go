package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/fenggwsx/chatrelay/internal/config"
	"github.com/fenggwsx/chatrelay/internal/presence"
	"github.com/fenggwsx/chatrelay/internal/storage"
	"github.com/fenggwsx/chatrelay/internal/transport"
)

const (
	teardownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Authenticator verifies credentials during the handshake and issues session tokens.
type Authenticator interface {
	SignUp(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) error
	LoginWithToken(ctx context.Context, username, token string) error
	IssueToken(username string) (string, error)
}

// App coordinates network listeners, session lifecycle, and message routing.
type App struct {
	cfg      config.ServerConfig
	store    storage.Store
	auth     Authenticator
	logger   *slog.Logger
	registry *presence.Registry[*Session]

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store, authenticator Authenticator, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	return &App{
		cfg:      cfg,
		store:    store,
		auth:     authenticator,
		logger:   logger,
		registry: presence.NewRegistry[*Session](),
		sessions: make(map[*Session]struct{}),
	}
}

// Prepare migrates storage and marks every user offline. Presence left over
// from an unclean shutdown is stale by definition.
func (a *App) Prepare(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := a.store.ResetPresence(ctx); err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

// Run prepares storage, starts the configured listeners and blocks until ctx
// is canceled or a listener fails. Live sessions are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listener, err := a.listen()
	if err != nil {
		return err
	}
	a.logger.Info("chat relay listening", "addr", listener.Addr().String(), "tls", a.cfg.TLS.Enabled())

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.Serve(ctx, listener)
	}()

	var wsServer *http.Server
	if a.cfg.WebSocketAddr != "" {
		wsListener, err := net.Listen("tcp", a.cfg.WebSocketAddr)
		if err != nil {
			cancel()
			<-errCh
			return fmt.Errorf("listen websocket: %w", err)
		}
		wsServer = &http.Server{Handler: a.HTTPHandler(ctx), ReadHeaderTimeout: readHeaderTimeout}
		a.logger.Info("websocket listening", "addr", wsListener.Addr().String(), "path", "/ws")
		go func() {
			if err := wsServer.Serve(wsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("websocket: %w", err)
			}
		}()
	}

	err = <-errCh
	cancel()

	if wsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), teardownTimeout)
		_ = wsServer.Shutdown(shutdownCtx)
		stop()
	}
	a.Shutdown()
	return err
}

func (a *App) listen() (net.Listener, error) {
	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if !a.cfg.TLS.Enabled() {
		return listener, nil
	}
	cert, err := tls.LoadX509KeyPair(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return tls.NewListener(listener, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Serve accepts line-framed connections on listener until ctx is canceled.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		lineConn := transport.NewLineConn(conn, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.cfg.MaxFrameBytes)
		go a.ServeConn(ctx, lineConn)
	}
}

// HTTPHandler routes the HTTP side of the relay: the WebSocket endpoint and
// a health probe.
func (a *App) HTTPHandler(ctx context.Context) http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/ws", a.WebSocketHandler(ctx))
	router.GET("/healthz", a.handleHealth)
	return router
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"online": a.registry.Len(),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// WebSocketHandler upgrades requests and runs a session per socket.
func (a *App) WebSocketHandler(ctx context.Context) http.Handler {
	upgrader := transport.NewUpgrader()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		a.ServeConn(ctx, transport.NewWebSocketConn(ws, a.cfg.WriteTimeout, a.cfg.MaxFrameBytes))
	})
}

// ServeConn runs one session to completion on conn.
func (a *App) ServeConn(ctx context.Context, conn transport.Conn) {
	s := newSession(a, conn)
	if !a.track(s) {
		_ = conn.Close()
		return
	}
	defer a.untrack(s)

	a.logger.Debug("connection accepted", "session", s.id, "remote", s.RemoteAddr())
	s.run(ctx)
}

func (a *App) track(s *Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.sessions[s] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *App) untrack(s *Session) {
	a.mu.Lock()
	delete(a.sessions, s)
	a.mu.Unlock()
	a.wg.Done()
}

// Shutdown closes every live session and waits for their teardown.
func (a *App) Shutdown() {
	a.mu.Lock()
	a.closing = true
	live := make([]*Session, 0, len(a.sessions))
	for s := range a.sessions {
		live = append(live, s)
	}
	a.mu.Unlock()

	for _, s := range live {
		s.Close()
	}
	a.wg.Wait()
}

// detached keeps request-scoped values but survives cancellation, so teardown
// can still record presence while the server is stopping.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
}
