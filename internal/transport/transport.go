// Package transport adapts stream and message sockets to a common frame interface.
package transport

import (
	"context"
	"errors"
	"net"
)

// Conn carries whole frames in both directions. WriteFrame is not safe for
// concurrent use; callers serialize writes.
type Conn interface {
	// ReadFrame blocks until a complete frame arrives, ctx is done, or the
	// connection fails. Idle periods do not end the read.
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
	RemoteAddr() string
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
