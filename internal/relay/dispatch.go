package relay

import "golang.org/x/sync/semaphore"

// slots is the session admission policy. With no cap every connection is
// admitted; that is the historical behaviour and leaves a burst of clients
// free to open an unbounded number of upstream handshakes. With a cap, a
// connection arriving while all slots are taken is refused rather than
// queued, so the accept loop never waits.
type slots struct {
	sem *semaphore.Weighted
}

func newSlots(max int) *slots {
	if max <= 0 {
		return &slots{}
	}
	return &slots{sem: semaphore.NewWeighted(int64(max))}
}

// acquire returns a release func, or ok=false when the cap is reached.
func (s *slots) acquire() (release func(), ok bool) {
	if s.sem == nil {
		return func() {}, true
	}
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	return func() { s.sem.Release(1) }, true
}

func (s *slots) bounded() bool { return s.sem != nil }
