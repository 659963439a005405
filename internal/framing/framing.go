// Package framing decides where one message ends on a stream that carries no
// length prefix or delimiter.
//
// Requests are framed by burst: whatever arrives back to back is one message.
// This races against segment arrival; a client that writes its request in
// several slow pieces is cut short. Responses are framed by closure: the
// upstream ends a response by closing its side.
package framing

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

// DefaultBufferSize is the size of a single read.
const DefaultBufferSize = 1024

// Stream is a reader whose next read can be bounded by a deadline.
// A zero deadline restores the stream's normal read timeout.
type Stream interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Options tunes both readers.
type Options struct {
	// BufferSize is the size of each read; DefaultBufferSize when zero.
	BufferSize int
	// Window is how long ReadAvailable waits for more bytes of the same burst.
	Window time.Duration
}

func (o Options) bufferSize() int {
	if o.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

// ReadAvailable reads one burst from s.
//
// The first read waits under the stream's own read timeout, so a silent peer
// fails with a timeout error. After that, reads continue only while more data
// turns up within opts.Window; the first quiet window ends the message. If
// the peer closes before sending anything, io.EOF is returned.
func ReadAvailable(s Stream, opts Options) ([]byte, error) {
	buf := make([]byte, opts.bufferSize())
	var msg bytes.Buffer

	n, err := s.Read(buf)
	msg.Write(buf[:n])
	if err != nil {
		if errors.Is(err, io.EOF) && msg.Len() > 0 {
			return msg.Bytes(), nil
		}
		return msg.Bytes(), err
	}
	defer s.SetReadDeadline(time.Time{})

	for {
		if err := s.SetReadDeadline(time.Now().Add(opts.Window)); err != nil {
			return msg.Bytes(), err
		}
		n, err := s.Read(buf)
		msg.Write(buf[:n])
		switch {
		case err == nil:
			continue
		case isTimeout(err), errors.Is(err, io.EOF):
			return msg.Bytes(), nil
		default:
			return msg.Bytes(), err
		}
	}
}

// ReadUntilClosed reads from r until the peer closes the stream. Any error
// other than io.EOF is returned along with the bytes read so far.
func ReadUntilClosed(r io.Reader, opts Options) ([]byte, error) {
	buf := make([]byte, opts.bufferSize())
	var msg bytes.Buffer
	for {
		n, err := r.Read(buf)
		msg.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return msg.Bytes(), nil
			}
			return msg.Bytes(), err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
