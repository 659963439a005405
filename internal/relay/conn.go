package relay

import (
	"net"
	"sync/atomic"
	"time"
)

// timeoutConn bounds every Read and Write by a fresh deadline, so a stalled
// peer fails the operation rather than the session hanging. An explicit
// SetReadDeadline pins the read deadline until it is reset with a zero time.
//
// Reads, writes and deadlines belong to a single session goroutine.
type timeoutConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	readPinned   time.Time
	closed       atomic.Bool
}

func newTimeoutConn(c net.Conn, read, write time.Duration) *timeoutConn {
	return &timeoutConn{Conn: c, readTimeout: read, writeTimeout: write}
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	d := c.readPinned
	if d.IsZero() && c.readTimeout > 0 {
		d = time.Now().Add(c.readTimeout)
	}
	if err := c.Conn.SetReadDeadline(d); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

func (c *timeoutConn) SetReadDeadline(t time.Time) error {
	c.readPinned = t
	return nil
}

func (c *timeoutConn) SetDeadline(t time.Time) error {
	c.readPinned = t
	return c.Conn.SetWriteDeadline(t)
}

// Close is idempotent and safe to call from another goroutine.
func (c *timeoutConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Conn.Close()
}
