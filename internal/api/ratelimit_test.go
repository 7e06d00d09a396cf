package api

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d denied within limit", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Error("request over the limit was allowed")
	}
}

func TestRateLimiterIsPerKey(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	if !rl.Allow("u1") {
		t.Fatal("first request for u1 denied")
	}
	if !rl.Allow("u2") {
		t.Error("u2 throttled by u1's traffic")
	}
	if rl.Allow("u1") {
		t.Error("u1 allowed over its own limit")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 30*time.Millisecond)
	if !rl.Allow("u1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("u1") {
		t.Fatal("second immediate request allowed")
	}

	time.Sleep(50 * time.Millisecond)
	if !rl.Allow("u1") {
		t.Error("request denied after the window slid past")
	}
}
