// Package status carries the human-readable status lines sessions emit for
// operator displays. Publishing is fire-and-forget: a sink must never block
// or fail a session.
package status

import (
	"time"
)

// Event classifies a status line.
type Event string

const (
	EventListening       Event = "listener.started"
	EventSessionStart    Event = "session.start"
	EventHandshakeFailed Event = "handshake.failed"
	EventResponseSent    Event = "response.sent"
	EventSessionFailed   Event = "session.failed"
	EventRejected        Event = "session.rejected"
)

// Line is one timestamped status record.
type Line struct {
	Time    time.Time
	Session string
	Event   Event
	Remote  string
	Text    string
}

// TimeLayout is the timestamp format of rendered lines.
const TimeLayout = "01/02/2006 15:04:05"

// String renders the line for display.
func (l Line) String() string {
	return l.Time.Format(TimeLayout) + " - [Server] " + l.Text
}

// Sink receives status lines.
type Sink interface {
	Publish(Line)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Line)

func (f SinkFunc) Publish(l Line) { f(l) }

// Nop discards every line.
type Nop struct{}

func (Nop) Publish(Line) {}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

type multi []Sink

func (m multi) Publish(l Line) {
	for _, s := range m {
		s.Publish(l)
	}
}

// Multi fans a line out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}
