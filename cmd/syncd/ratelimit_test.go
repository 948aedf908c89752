// ABOUTME: Tests for the per-user sync rate limiter.
// ABOUTME: Covers burst behavior, user isolation, and env configuration.

package main

import "testing"

func TestRateLimiterBurstThenBlocks(t *testing.T) {
	store := newRateLimiterStore(rateLimitConfig{perMinute: 1, burst: 2})

	if !store.allow("user-1") {
		t.Fatal("request 1 should pass")
	}
	if !store.allow("user-1") {
		t.Fatal("request 2 should pass")
	}
	if store.allow("user-1") {
		t.Fatal("request 3 should be rate limited")
	}
}

func TestRateLimiterPerUserIsolation(t *testing.T) {
	store := newRateLimiterStore(rateLimitConfig{perMinute: 1, burst: 1})

	if !store.allow("user-a") {
		t.Fatal("user-a first request should pass")
	}
	if store.allow("user-a") {
		t.Fatal("user-a second request should be limited")
	}
	// A different user has their own bucket.
	if !store.allow("user-b") {
		t.Fatal("user-b should not share user-a's bucket")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	store := newRateLimiterStore(rateLimitConfig{perMinute: 0, burst: 1})

	for i := 0; i < 1000; i++ {
		if !store.allow("user-1") {
			t.Fatalf("disabled limiter blocked request %d", i)
		}
	}
}

func TestRateLimitFromEnv(t *testing.T) {
	t.Setenv("SYNCD_RATE_PER_MINUTE", "30")
	t.Setenv("SYNCD_RATE_BURST", "3")
	cfg := rateLimitFromEnv()
	if cfg.perMinute != 30 || cfg.burst != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("SYNCD_RATE_PER_MINUTE", "")
	t.Setenv("SYNCD_RATE_BURST", "")
	cfg = rateLimitFromEnv()
	if cfg.perMinute != 100 || cfg.burst != 10 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
