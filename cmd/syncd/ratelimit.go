// ABOUTME: Per-user token buckets guarding the sync endpoints.
// ABOUTME: A runaway device retry loop must not crowd out other users' syncs.

package main

import (
	"os"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// rateLimitConfig sizes the per-user bucket. perMinute <= 0 disables limiting.
type rateLimitConfig struct {
	perMinute int
	burst     int
}

// rateLimitFromEnv reads SYNCD_RATE_PER_MINUTE and SYNCD_RATE_BURST, defaulting
// to 100 requests per minute with a burst of 10. That covers a device syncing
// aggressively while it drains a long pull, without letting one user saturate
// the server.
func rateLimitFromEnv() rateLimitConfig {
	cfg := rateLimitConfig{perMinute: 100, burst: 10}
	if v, err := strconv.Atoi(os.Getenv("SYNCD_RATE_PER_MINUTE")); err == nil {
		cfg.perMinute = v
	}
	if v, err := strconv.Atoi(os.Getenv("SYNCD_RATE_BURST")); err == nil && v > 0 {
		cfg.burst = v
	}
	return cfg
}

func (c rateLimitConfig) limit() rate.Limit {
	if c.perMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(c.perMinute) / 60)
}

// rateLimiterStore keeps one token bucket per authenticated user.
type rateLimiterStore struct {
	mu      sync.RWMutex
	perUser map[string]*rate.Limiter
	cfg     rateLimitConfig
}

func newRateLimiterStore(cfg rateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		perUser: make(map[string]*rate.Limiter),
		cfg:     cfg,
	}
}

// allow reports whether the user may make another sync request right now.
func (s *rateLimiterStore) allow(userID string) bool {
	s.mu.RLock()
	limiter, ok := s.perUser[userID]
	s.mu.RUnlock()
	if ok {
		return limiter.Allow()
	}

	s.mu.Lock()
	// Re-check under the write lock; another request may have won the race.
	if limiter, ok = s.perUser[userID]; !ok {
		limiter = rate.NewLimiter(s.cfg.limit(), s.cfg.burst)
		s.perUser[userID] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}
