package transport

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	controlWait = 5 * time.Second
)

// WebSocketConn carries one frame per text message.
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// NewUpgrader returns the upgrader used by the /ws endpoint.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewWebSocketConn wraps conn and starts its keep-alive pinger.
func NewWebSocketConn(conn *websocket.Conn, writeTimeout time.Duration, maxFrameBytes int) *WebSocketConn {
	if maxFrameBytes > 0 {
		conn.SetReadLimit(int64(maxFrameBytes))
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &WebSocketConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.pingLoop()
	return c
}

func (c *WebSocketConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// ReadFrame returns the next non-empty text or binary message. Any read
// error is permanent for a websocket, so liveness relies on ping/pong.
func (c *WebSocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return data, nil
	}
}

// WriteFrame sends frame as one text message.
func (c *WebSocketConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close stops the pinger, sends a close frame and releases the socket.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWait))
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr reports the peer address.
func (c *WebSocketConn) RemoteAddr() string {
	return addrString(c.conn.RemoteAddr())
}
