package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/matst80/tlsrelay/internal/framing"
	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/status"
	"github.com/matst80/tlsrelay/internal/trust"
)

// State is a step of the session lifecycle. Sessions only move forward.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateRelayingRequest
	StateRelayingResponse
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateRelayingRequest:
		return "relaying_request"
	case StateRelayingResponse:
		return "relaying_response"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StageError records the state a session was in when it failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string { return e.State.String() + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// session relays exactly one request and one response between a downstream
// plaintext connection and its own upstream TLS connection.
type session struct {
	id      string
	srv     *Server
	remote  string
	down    *timeoutConn
	up      *timeoutConn
	tlsConn *tls.Conn
	state   State
	started time.Time

	requestBytes  int
	responseBytes int
}

// newSession wraps the downstream conn with the configured timeouts before
// any byte is transferred.
func newSession(srv *Server, c net.Conn) *session {
	return &session{
		id:      uuid.NewString(),
		srv:     srv,
		remote:  c.RemoteAddr().String(),
		down:    newTimeoutConn(c, srv.opts.ReadTimeout, srv.opts.WriteTimeout),
		state:   StateConnecting,
		started: time.Now(),
	}
}

func (s *session) fail(err error) error {
	return &StageError{State: s.state, Err: err}
}

func (s *session) run(ctx context.Context) error {
	s.state = StateConnecting
	raw, err := s.srv.dial(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.up = newTimeoutConn(raw, s.srv.opts.ReadTimeout, s.srv.opts.WriteTimeout)

	s.state = StateHandshaking
	s.tlsConn = tls.Client(s.up, s.srv.opts.TLS)
	hctx, cancel := context.WithTimeout(ctx, s.srv.opts.ReadTimeout)
	hsStart := time.Now()
	err = s.tlsConn.HandshakeContext(hctx)
	cancel()
	if err != nil {
		return s.fail(err)
	}
	obs.HandshakeSeconds.Observe(time.Since(hsStart).Seconds())

	s.state = StateRelayingRequest
	req, err := framing.ReadAvailable(s.down, s.srv.opts.Framing)
	if err != nil {
		return s.fail(fmt.Errorf("read request: %w", err))
	}
	if _, err := s.tlsConn.Write(req); err != nil {
		return s.fail(fmt.Errorf("forward request: %w", err))
	}
	s.requestBytes = len(req)
	obs.BytesTotal.WithLabelValues("upstream").Add(float64(len(req)))

	s.state = StateRelayingResponse
	resp, err := framing.ReadUntilClosed(s.tlsConn, s.srv.opts.Framing)
	if err != nil {
		return s.fail(fmt.Errorf("read response: %w", err))
	}
	if _, err := s.down.Write(resp); err != nil {
		return s.fail(fmt.Errorf("deliver response: %w", err))
	}
	s.responseBytes = len(resp)
	obs.BytesTotal.WithLabelValues("downstream").Add(float64(len(resp)))

	s.state = StateClosed
	return nil
}

// close releases both sockets. close_notify is only sent upstream after a
// completed exchange; on failure the upstream socket is dropped.
func (s *session) close() {
	if s.tlsConn != nil && s.state == StateClosed {
		_ = s.tlsConn.Close()
	}
	if s.up != nil {
		_ = s.up.Close()
	}
	_ = s.down.Close()
}

func (s *session) publish(ev status.Event, text string) {
	s.srv.status.Publish(status.Line{Time: time.Now(), Session: s.id, Event: ev, Remote: s.remote, Text: text})
}

// failureReason buckets errors for metrics.
func failureReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, trust.ErrCertificateRejected):
		return "certificate_rejected"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "refused"
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, net.ErrClosed):
		return "reset"
	}
	return "error"
}
