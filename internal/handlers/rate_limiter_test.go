package handlers

import (
	"testing"
	"time"
)

func TestKeyedRateLimiterRefillsPerKey(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(60, 2, func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected burst of two to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected independent bucket per key")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected a token after one second at 60/min")
	}
}

func TestKeyedRateLimiterDisabled(t *testing.T) {
	if limiter := newKeyedRateLimiter(0, 5, nil); limiter != nil {
		t.Fatalf("expected nil limiter when rate is zero")
	}
}

func TestKeyedRateLimiterPrunesIdleKeys(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(1, 1, func() time.Time { return now }).(*keyedRateLimiter)
	limiter.Allow("old")
	now = now.Add(rateLimiterIdleTTL + time.Second)
	limiter.Allow("new")
	if _, ok := limiter.buckets["old"]; ok {
		t.Fatalf("expected idle bucket to be pruned")
	}
}
