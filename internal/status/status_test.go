package status

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/matst80/tlsrelay/internal/obs"
)

func TestLineString(t *testing.T) {
	l := Line{Time: time.Date(2026, 3, 4, 17, 5, 6, 0, time.UTC), Text: "New TCP connection received"}
	want := "03/04/2026 17:05:06 - [Server] New TCP connection received"
	if got := l.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if strings.Contains(l.String(), "\n") {
		t.Error("line must be single-line")
	}
}

func TestMulti(t *testing.T) {
	var a, b []Line
	s := Multi(nil, SinkFunc(func(l Line) { a = append(a, l) }), SinkFunc(func(l Line) { b = append(b, l) }))
	s.Publish(Line{Text: "x"})
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("fan-out failed: %d %d", len(a), len(b))
	}
	if _, ok := Multi(nil, nil).(Nop); !ok {
		t.Error("Multi of nils should be Nop")
	}
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("OrNop(nil) should be Nop")
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	if got := r.Lines(); len(got) != 0 {
		t.Fatalf("expected empty ring, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		r.Publish(Line{Text: fmt.Sprint(i)})
	}
	got := r.Lines()
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	for i, want := range []string{"2", "3", "4"} {
		if got[i].Text != want {
			t.Errorf("line %d = %q, want %q", i, got[i].Text, want)
		}
	}

	r = NewRing(0)
	r.Publish(Line{Text: "dropped"})
	if len(r.Lines()) != 0 {
		t.Error("zero-sized ring should keep nothing")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	defer obs.SetOutput(os.Stdout)
	defer obs.EnableDebug(false)

	LogSink{}.Publish(Line{Event: EventSessionStart, Session: "s1", Text: "New TCP connection received from 127.0.0.1"})
	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, `"session":"s1"`) {
		t.Errorf("unexpected log output %q", out)
	}

	// failures are already logged at error level by the relay
	buf.Reset()
	obs.EnableDebug(false)
	for _, ev := range []Event{EventHandshakeFailed, EventSessionFailed, EventRejected} {
		LogSink{}.Publish(Line{Event: ev, Session: "s2", Text: "failed"})
	}
	if buf.Len() != 0 {
		t.Errorf("failure lines should not reach the log without debug: %q", buf.String())
	}
	obs.EnableDebug(true)
	LogSink{}.Publish(Line{Event: EventHandshakeFailed, Session: "s2", Text: "TLS handshake failed"})
	if out := buf.String(); !strings.Contains(out, `"level":"debug"`) || strings.Contains(out, `"level":"error"`) {
		t.Errorf("failure line should log at debug, got %q", out)
	}
}

func TestRedisSinkUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := NewRedisSink(ctx, RedisOptions{Addr: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected connection error")
	}
}
