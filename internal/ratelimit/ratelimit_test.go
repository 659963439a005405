package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	bucket := NewTokenBucket(2, 5) // 2 tokens per second, capacity of 5

	for i := 0; i < 5; i++ {
		if !bucket.Allow() {
			t.Errorf("Expected initial request %d to be allowed", i)
		}
	}

	if bucket.Allow() {
		t.Error("Expected request to be denied when bucket is empty")
	}

	time.Sleep(1100 * time.Millisecond)

	if !bucket.Allow() {
		t.Error("Expected request to be allowed after token refill")
	}
	if !bucket.Allow() {
		t.Error("Expected second request to be allowed after token refill")
	}
	if bucket.Allow() {
		t.Error("Expected third request to be denied")
	}
}

func TestLimiterPerIP(t *testing.T) {
	l := NewLimiter(1, 3)

	ip := "10.0.0.1"
	for i := 0; i < 3; i++ {
		if !l.AllowConnection(ip) {
			t.Errorf("Expected connection %d to be allowed for %s", i, ip)
		}
	}
	if l.AllowConnection(ip) {
		t.Error("Expected connection to be denied after burst")
	}
	if !l.AllowConnection("10.0.0.2") {
		t.Error("Expected a different IP to have its own bucket")
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, 5)
	if l != nil {
		t.Fatal("Expected nil limiter when rate is 0")
	}
	for i := 0; i < 100; i++ {
		if !l.AllowConnection("10.0.0.1") {
			t.Fatalf("Expected connection %d to be allowed when disabled", i)
		}
	}
	if l.Cleanup(time.Second) != 0 {
		t.Error("Expected no-op cleanup on nil limiter")
	}
}

func TestLimiterBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(2, 0)
	if !l.AllowConnection("a") || !l.AllowConnection("a") {
		t.Error("Expected burst equal to rate")
	}
	if l.AllowConnection("a") {
		t.Error("Expected third connection to be denied")
	}
}

func TestLimiterCleanup(t *testing.T) {
	l := NewLimiter(1, 1)
	l.AllowConnection("old")
	time.Sleep(50 * time.Millisecond)
	l.AllowConnection("fresh")

	if removed := l.Cleanup(25 * time.Millisecond); removed != 1 {
		t.Errorf("Expected 1 bucket removed, got %d", removed)
	}
	if _, ok := l.buckets["old"]; ok {
		t.Error("Expected idle bucket to be removed")
	}
	if _, ok := l.buckets["fresh"]; !ok {
		t.Error("Expected recent bucket to remain")
	}
}
