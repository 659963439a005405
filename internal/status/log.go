package status

import "github.com/matst80/tlsrelay/internal/obs"

// LogSink writes status lines to the structured log.
type LogSink struct{}

func (LogSink) Publish(l Line) {
	f := obs.Fields{"event": string(l.Event), "text": l.Text}
	if l.Session != "" {
		f["session"] = l.Session
	}
	if l.Remote != "" {
		f["remote"] = l.Remote
	}
	switch l.Event {
	case EventHandshakeFailed, EventSessionFailed, EventRejected:
		// the relay logs these itself with the error and stage
		obs.Debug("status", f)
	default:
		obs.Info("status", f)
	}
}
