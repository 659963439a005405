// Package relay accepts plaintext TCP clients and relays one request and one
// response per connection through a dedicated upstream TLS connection.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matst80/tlsrelay/internal/framing"
	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/ratelimit"
	"github.com/matst80/tlsrelay/internal/status"
)

// DialFunc opens the upstream TCP connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a Server. It is copied at construction and never
// changed afterwards.
type Options struct {
	// UpstreamAddr is the resolved host:port dialed for every session.
	UpstreamAddr string
	// TLS is the upstream client configuration, normally trust.Policy.ClientConfig.
	TLS *tls.Config

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration

	Framing framing.Options

	// MaxSessions caps concurrent sessions; 0 means unbounded.
	MaxSessions int
	// Limiter optionally rate limits new connections per remote IP.
	Limiter *ratelimit.Limiter
	// Status receives operator status lines; nil discards them.
	Status status.Sink
	// Dial overrides the upstream dialer.
	Dial DialFunc
}

// Stats is a snapshot of server counters.
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
	BytesUp   int64 `json:"bytes_up"`
	BytesDown int64 `json:"bytes_down"`
}

// Server is the relay listener.
type Server struct {
	opts   Options
	status status.Sink
	slots  *slots
	wg     sync.WaitGroup

	accepted, active, completed, failed, rejected atomic.Int64
	bytesUp, bytesDown                            atomic.Int64
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	if opts.UpstreamAddr == "" {
		return nil, errors.New("relay: upstream address required")
	}
	if opts.TLS == nil {
		return nil, errors.New("relay: upstream TLS config required")
	}
	if opts.ReadTimeout <= 0 || opts.WriteTimeout <= 0 {
		return nil, errors.New("relay: read and write timeouts must be positive")
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = opts.ReadTimeout
	}
	if opts.Framing.Window <= 0 {
		opts.Framing.Window = 25 * time.Millisecond
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: opts.ConnectTimeout}
		opts.Dial = d.DialContext
	}
	return &Server{opts: opts, status: status.OrNop(opts.Status), slots: newSlots(opts.MaxSessions)}, nil
}

// Listen binds addr. Failure means the relay cannot serve.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, dispatching each to
// its own goroutine. Cancelling ctx closes ln; sessions already running are
// left to finish on their own timeouts. Serve returns nil after
// cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	obs.Info("relay.listening", obs.Fields{"addr": ln.Addr().String(), "upstream": s.opts.UpstreamAddr, "max_sessions": s.opts.MaxSessions})
	s.status.Publish(status.Line{Time: time.Now(), Event: status.EventListening, Text: "Started listener on " + ln.Addr().String()})

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			obs.Error("accept.error", obs.Fields{"err": err.Error(), "retry_in": backoff.String()})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		s.dispatch(c)
	}
}

// dispatch admits c and starts its session without waiting for it.
func (s *Server) dispatch(c net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			obs.Error("dispatch.panic", obs.Fields{"panic": fmt.Sprint(r)})
			_ = c.Close()
		}
	}()
	s.accepted.Add(1)
	if nd, ok := c.(interface{ SetNoDelay(bool) error }); ok {
		_ = nd.SetNoDelay(true)
	}
	remote := c.RemoteAddr().String()
	if s.opts.Limiter != nil && !s.opts.Limiter.AllowConnection(hostOf(remote)) {
		s.reject(c, remote, "rate_limited")
		return
	}
	release, ok := s.slots.acquire()
	if !ok {
		s.reject(c, remote, "max_sessions")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.handle(c)
	}()
}

func (s *Server) reject(c net.Conn, remote, reason string) {
	_ = c.Close()
	s.rejected.Add(1)
	obs.RejectedTotal.WithLabelValues(reason).Inc()
	obs.Warn("session.rejected", obs.Fields{"remote": remote, "reason": reason})
	s.status.Publish(status.Line{Time: time.Now(), Event: status.EventRejected, Remote: remote,
		Text: fmt.Sprintf("Connection from %s rejected: %s", remote, reason)})
}

// handle runs one session to completion. Errors and panics stop here.
func (s *Server) handle(c net.Conn) {
	sess := newSession(s, c)
	s.active.Add(1)
	obs.SessionsTotal.Inc()
	obs.ActiveSessions.Inc()
	defer func() {
		if r := recover(); r != nil {
			obs.Error("session.panic", obs.Fields{"session": sess.id, "panic": fmt.Sprint(r)})
			sess.state = StateFailed
			s.failed.Add(1)
		}
		sess.close()
		s.active.Add(-1)
		obs.ActiveSessions.Dec()
		obs.SessionDurationSeconds.Observe(time.Since(sess.started).Seconds())
	}()

	obs.Debug("session.start", obs.Fields{"session": sess.id, "remote": sess.remote})
	sess.publish(status.EventSessionStart, "New TCP connection received from "+sess.remote)

	err := sess.run(context.Background())
	s.bytesUp.Add(int64(sess.requestBytes))
	s.bytesDown.Add(int64(sess.responseBytes))
	if err != nil {
		s.recordFailure(sess, err)
		return
	}
	s.completed.Add(1)
	obs.Info("session.closed", obs.Fields{"session": sess.id, "request_bytes": sess.requestBytes, "response_bytes": sess.responseBytes, "duration_ms": time.Since(sess.started).Milliseconds()})
	sess.publish(status.EventResponseSent, fmt.Sprintf("Response sent to TCP connection (%d bytes)", sess.responseBytes))
}

func (s *Server) recordFailure(sess *session, err error) {
	stage := sess.state
	var se *StageError
	if errors.As(err, &se) {
		stage = se.State
	}
	sess.state = StateFailed
	s.failed.Add(1)
	reason := failureReason(err)
	obs.SessionFailuresTotal.WithLabelValues(stage.String(), reason).Inc()
	obs.Error("session.failed", obs.Fields{"session": sess.id, "remote": sess.remote, "stage": stage.String(), "reason": reason, "err": err.Error()})
	if stage == StateHandshaking {
		sess.publish(status.EventHandshakeFailed, fmt.Sprintf("TLS handshake with %s failed: %v", s.opts.UpstreamAddr, errors.Unwrap(err)))
		return
	}
	sess.publish(status.EventSessionFailed, "Error encountered: "+err.Error())
}

func (s *Server) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	c, err := s.opts.Dial(ctx, "tcp", s.opts.UpstreamAddr)
	if err != nil {
		return nil, fmt.Errorf("dial upstream %s: %w", s.opts.UpstreamAddr, err)
	}
	return c, nil
}

// Wait blocks until every dispatched session has finished.
func (s *Server) Wait() { s.wg.Wait() }

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Active:    s.active.Load(),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
		BytesUp:   s.bytesUp.Load(),
		BytesDown: s.bytesDown.Load(),
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
