package http

import (
	"math"
	"sync"
	"time"
)

// bucket is the token state of one client address.
type bucket struct {
	tokens   float64
	updated  time.Time
	lastSeen time.Time
}

// RateLimiter is a token bucket per client address. The editor host usually talks from
// loopback, so the limit mostly guards against runaway tree refresh loops.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity float64
	rate     float64
	ttl      time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter returns a limiter holding burst tokens per client, refilled at
// refillPerSecond. Clients idle for longer than ttl are forgotten until Close is called.
func NewRateLimiter(burst int, refillPerSecond float64, ttl time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		capacity: float64(burst),
		rate:     refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	if ttl > 0 {
		go rl.sweep(time.NewTicker(ttl))
	}

	return rl
}

// Allow takes a token for key.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Take(key)
	return ok
}

// Take takes a token for key. When the bucket is empty it reports how long until the next
// token is available.
func (rl *RateLimiter) Take(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.refill(key, now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rl.rate <= 0 {
		return false, rl.ttl
	}

	missing := 1 - b.tokens
	wait := time.Duration(math.Ceil(missing / rl.rate * float64(time.Second)))
	return false, wait
}

func (rl *RateLimiter) refill(key string, now time.Time) *bucket {
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity, updated: now}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if elapsed := now.Sub(b.updated).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.capacity, b.tokens+elapsed*rl.rate)
		b.updated = now
	}
	return b
}

// Close stops the background sweep.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stop)
	})
}

func (rl *RateLimiter) sweep(ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.forgetIdle()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) forgetIdle() {
	if rl.ttl <= 0 {
		return
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.ttl {
			delete(rl.buckets, key)
		}
	}
}
