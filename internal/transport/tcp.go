package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/fenggwsx/chatrelay/internal/protocol"
)

const keepAlivePeriod = 30 * time.Second

// LineConn frames newline-delimited JSON over a stream socket.
type LineConn struct {
	conn         net.Conn
	decoder      *protocol.Decoder
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewLineConn wraps conn. readTimeout bounds each wait for data and is
// retried; writeTimeout bounds each frame write.
func NewLineConn(conn net.Conn, readTimeout, writeTimeout time.Duration, maxFrameBytes int) *LineConn {
	tune(conn)
	return &LineConn{
		conn:         conn,
		decoder:      protocol.NewDecoder(conn, maxFrameBytes),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// tune disables Nagle and enables keep-alive on the underlying TCP socket.
func tune(conn net.Conn) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetKeepAlive(true)
	_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
}

// ReadFrame waits for the next line, retrying idle read timeouts until ctx is done.
func (c *LineConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.readTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return nil, err
			}
		}
		frame, err := c.decoder.ReadFrame()
		if err == nil {
			return frame, nil
		}
		if isTimeout(err) {
			continue
		}
		return nil, err
	}
}

// WriteFrame writes frame and its newline in one write.
func (c *LineConn) WriteFrame(frame []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

// Close closes the socket.
func (c *LineConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr reports the peer address.
func (c *LineConn) RemoteAddr() string {
	return addrString(c.conn.RemoteAddr())
}
