package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// unlimitedRate is used when a zero rate is configured.
const unlimitedRate = 1_000_000_000

// RateLimiter provides per-principal request rate limiting using the token
// bucket algorithm from golang.org/x/time/rate.
//
// Every key (typically "<company>/<user>") gets its own bucket, created lazily
// on first use. Buckets idle for longer than the idle TTL are dropped by
// Sweep so the map does not grow without bound.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a RateLimiter with the specified sustained rate and burst
// capacity applied to each key independently.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: defaults to requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimitedRate
		burst = requestsPerSecond
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		rps:     rate.Limit(requestsPerSecond),
		burst:   int(burst),
		buckets: make(map[string]*bucket),
	}
}

func (r *RateLimiter) bucketFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// Allow reports whether a request for key may proceed now, consuming a token
// if so. It never blocks.
func (r *RateLimiter) Allow(key string) bool {
	return r.bucketFor(key).Allow()
}

// Wait blocks until a token for key is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	return r.bucketFor(key).Wait(ctx)
}

// Tokens returns the number of tokens currently available for key.
func (r *RateLimiter) Tokens(key string) float64 {
	return r.bucketFor(key).Tokens()
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Sweep drops buckets that have not been used for longer than idle.
//
// Returns the number of buckets removed.
func (r *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, b := range r.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}
