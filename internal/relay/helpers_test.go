package relay

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matst80/tlsrelay/internal/framing"
	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/status"
	"github.com/matst80/tlsrelay/internal/trust"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func selfSigned(t *testing.T, notBefore, notAfter time.Time) *tls.Certificate {
	t.Helper()
	c, err := trust.GenerateSelfSigned("127.0.0.1", notBefore, notAfter)
	if err != nil {
		t.Fatalf("generate certificate: %v", err)
	}
	return c
}

func validCert(t *testing.T) *tls.Certificate {
	now := time.Now()
	return selfSigned(t, now.Add(-time.Hour), now.Add(time.Hour))
}

func expiredCert(t *testing.T) *tls.Certificate {
	now := time.Now()
	return selfSigned(t, now.Add(-48*time.Hour), now.Add(-time.Hour))
}

// upstream is a mock TLS backend.
type upstream struct {
	ln         net.Listener
	accepted   atomic.Int64
	handshakes atomic.Int64
	wg         sync.WaitGroup
}

func (u *upstream) Addr() string { return u.ln.Addr().String() }

// startUpstream serves TLS with cert and runs handle for every handshaken conn.
// The conn is closed when handle returns.
func startUpstream(t *testing.T, cert *tls.Certificate, handle func(c *tls.Conn)) *upstream {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	u := &upstream{ln: ln}
	cfg := &tls.Config{Certificates: []tls.Certificate{*cert}, ClientAuth: tls.RequestClientCert}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			u.accepted.Add(1)
			u.wg.Add(1)
			go func() {
				defer u.wg.Done()
				tc := tls.Server(c, cfg)
				defer tc.Close()
				_ = tc.SetDeadline(time.Now().Add(10 * time.Second))
				if err := tc.Handshake(); err != nil {
					return
				}
				u.handshakes.Add(1)
				handle(tc)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		u.wg.Wait()
	})
	return u
}

// replyOK reads one request of n bytes and answers "OK\n".
func replyOK(n int, got chan<- []byte) func(c *tls.Conn) {
	return func(c *tls.Conn) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		if got != nil {
			got <- buf
		}
		_, _ = c.Write([]byte("OK\n"))
	}
}

// captureSink records status lines.
type captureSink struct {
	mu    sync.Mutex
	lines []status.Line
}

func (c *captureSink) Publish(l status.Line) {
	c.mu.Lock()
	c.lines = append(c.lines, l)
	c.mu.Unlock()
}

func (c *captureSink) count(ev status.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		if l.Event == ev {
			n++
		}
	}
	return n
}

// trackingConn counts Close calls once per conn and SetNoDelay(true) calls
// when noDelay is set.
type trackingConn struct {
	net.Conn
	once    sync.Once
	closed  *atomic.Int64
	noDelay *atomic.Int64
}

func (c *trackingConn) SetNoDelay(v bool) error {
	tc, ok := c.Conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(v); err != nil {
		return err
	}
	if v && c.noDelay != nil {
		c.noDelay.Add(1)
	}
	return nil
}

func (c *trackingConn) Close() error {
	c.once.Do(func() { c.closed.Add(1) })
	return c.Conn.Close()
}

// trackingListener wraps accepted conns so tests can observe downstream closure.
type trackingListener struct {
	net.Listener
	accepted atomic.Int64
	closed   atomic.Int64
	noDelay  atomic.Int64
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	l.accepted.Add(1)
	return &trackingConn{Conn: c, closed: &l.closed, noDelay: &l.noDelay}, nil
}

// trackingDialer counts upstream dials and closes.
type trackingDialer struct {
	dialed atomic.Int64
	closed atomic.Int64
}

func (d *trackingDialer) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	d.dialed.Add(1)
	return &trackingConn{Conn: c, closed: &d.closed}, nil
}

type harness struct {
	srv    *Server
	ln     *trackingListener
	dialer *trackingDialer
	sink   *captureSink
	cancel context.CancelFunc
	done   chan error
}

func (h *harness) Addr() string { return h.ln.Addr().String() }

// startRelay runs a Server against upstreamAddr on an ephemeral port.
func startRelay(t *testing.T, upstreamAddr string, mutate func(*Options)) *harness {
	t.Helper()
	policy, err := trust.NewPolicy(validCert(t), 0, 0)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	h := &harness{dialer: &trackingDialer{}, sink: &captureSink{}, done: make(chan error, 1)}
	opts := Options{
		UpstreamAddr: upstreamAddr,
		TLS:          policy.ClientConfig(""),
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		Framing:      framing.Options{Window: 50 * time.Millisecond},
		Status:       h.sink,
		Dial:         h.dialer.Dial,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.srv, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h.ln = &trackingListener{Listener: ln}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.srv.Serve(ctx, h.ln) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
		h.srv.Wait()
	})
	return h
}

// exchange connects to the relay, writes req in one burst and reads until
// the relay closes the connection.
func exchange(t *testing.T, addr string, req []byte, deadline time.Duration) ([]byte, error) {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(deadline))
	if len(req) > 0 {
		if _, err := c.Write(req); err != nil {
			return nil, err
		}
	}
	return io.ReadAll(c)
}

// eventually polls cond until it holds or the timeout passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
