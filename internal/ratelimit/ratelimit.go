package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow checks if a request can be allowed and consumes a token if available
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// Limiter rate limits new connections per remote IP.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	rate    int
	burst   int
}

// NewLimiter returns a per-IP limiter, or nil when rate is 0 (disabled).
func NewLimiter(rate, burst int) *Limiter {
	if rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = rate
	}
	return &Limiter{buckets: make(map[string]*TokenBucket), rate: rate, burst: burst}
}

// AllowConnection reports whether ip may open another connection now.
// A nil Limiter allows everything.
func (l *Limiter) AllowConnection(ip string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = NewTokenBucket(l.rate, l.burst)
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// Cleanup drops buckets unused for longer than maxIdle and returns how many
// were removed.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	if l == nil {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, b := range l.buckets {
		if b.idleSince().Before(cutoff) {
			delete(l.buckets, ip)
			removed++
		}
	}
	return removed
}
