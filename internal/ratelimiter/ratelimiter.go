package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles inbound batches per caller identity using the
// token bucket algorithm of golang.org/x/time/rate.
//
// Every identity gets its own bucket; requests without an identity share
// the bucket of the empty identity. A batch costs one token per
// sub-request, so a caller cannot escape the limit by packing more work
// into fewer requests.
//
// Buckets of identities that stayed idle for longer than the idle TTL are
// dropped by Allow, bounding memory under identity churn.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// defaultIdleTTL is how long an unused bucket is kept.
const defaultIdleTTL = 10 * time.Minute

// New creates a RateLimiter allowing requestsPerSecond sub-requests per
// identity with bursts up to burst.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (Allow always succeeds)
//   - burst = 0: burst defaults to requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	r := &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   int(burst),
		idleTTL: defaultIdleTTL,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if requestsPerSecond == 0 {
		r.limit = rate.Inf
	}
	if r.burst == 0 {
		r.burst = int(requestsPerSecond)
	}
	return r
}

// Unlimited reports whether the limiter lets everything through.
func (r *RateLimiter) Unlimited() bool {
	return r.limit == rate.Inf
}

// Allow reports whether identity may run a batch of cost sub-requests now,
// consuming the tokens if so. A cost above the burst is charged as the
// burst: such a batch passes only on a full bucket.
func (r *RateLimiter) Allow(identity string, cost int) bool {
	if r.Unlimited() {
		return true
	}
	if cost < 1 {
		cost = 1
	}
	if cost > r.burst {
		cost = r.burst
	}

	now := r.now()
	return r.bucketFor(identity, now).AllowN(now, cost)
}

func (r *RateLimiter) bucketFor(identity string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) > r.idleTTL {
		for id, b := range r.buckets {
			if now.Sub(b.lastSeen) > r.idleTTL {
				delete(r.buckets, id)
			}
		}
		r.lastSweep = now
	}

	b, ok := r.buckets[identity]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[identity] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Tracked returns the number of identities with a live bucket.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}
