package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Keyed holds one token bucket per key, created on first use.
// Each bucket enforces a steady-state rate of ratePerSec tokens per second.
// Burst equals the rate so no capacity is saved up beyond one second's worth.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Keyed limiter. A non-positive rate disables limiting.
func New(ratePerSec int) *Keyed {
	k := &Keyed{limiters: make(map[string]*rate.Limiter), limit: rate.Inf, burst: 1}
	if ratePerSec > 0 {
		k.limit = rate.Limit(ratePerSec)
		k.burst = ratePerSec
	}
	return k
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = l
	}
	return l
}

// Allow reports whether key may act now, consuming a token if so.
// Connection command handling uses it: an over-limit command is refused
// rather than delayed.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).Allow()
}

// Wait blocks until key's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	return k.get(key).Wait(ctx)
}

// Forget drops key's bucket, e.g. when its connection closes.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}

// Len returns the number of live buckets.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
