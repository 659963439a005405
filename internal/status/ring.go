package status

import "sync"

// Ring keeps the most recent lines in memory for the dashboard.
type Ring struct {
	mu    sync.Mutex
	lines []Line
	next  int
	full  bool
}

// NewRing returns a ring holding up to size lines. size <= 0 keeps nothing.
func NewRing(size int) *Ring {
	if size < 0 {
		size = 0
	}
	return &Ring{lines: make([]Line, size)}
}

func (r *Ring) Publish(l Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return
	}
	r.lines[r.next] = l
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (r *Ring) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Line(nil), r.lines[:r.next]...)
	}
	out := make([]Line, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
