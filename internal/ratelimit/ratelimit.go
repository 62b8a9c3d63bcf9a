// Package ratelimit throttles reset API requests per client with token
// buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	rate       float64 // tokens per second
	burst      int     // max bucket size
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewLimiter creates a full bucket refilled at rate tokens per second.
func NewLimiter(rate float64, burst int, now time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now,
	}
}

// Allow consumes one token at now and reports whether one was available.
func (l *Limiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(now)
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// RetryAfter is how long until the next token, zero when one is available.
func (l *Limiter) RetryAfter(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(now)
	if l.tokens >= 1 || l.rate <= 0 {
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// full reports whether the bucket has refilled completely by now.
func (l *Limiter) full(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(now)
	return l.tokens >= float64(l.burst)
}

// refill must be called with l.mu held.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed.Seconds() * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now
}

// Group hands out one limiter per key, typically a client address.
type Group struct {
	Rate  float64
	Burst int
	Now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// PerMinute returns a group allowing n requests a minute per key with a
// burst of burst.
func PerMinute(n, burst int) *Group {
	return &Group{Rate: float64(n) / 60, Burst: burst}
}

func (g *Group) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Group) limiter(key string, now time.Time) *Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.limiters == nil {
		g.limiters = make(map[string]*Limiter)
	}
	l, ok := g.limiters[key]
	if !ok {
		l = NewLimiter(g.Rate, g.Burst, now)
		g.limiters[key] = l
	}
	return l
}

// Allow consumes a token for key. When none is left it returns false and
// the wait until the next one.
func (g *Group) Allow(key string) (bool, time.Duration) {
	now := g.now()
	l := g.limiter(key, now)
	if l.Allow(now) {
		return true, 0
	}
	return false, l.RetryAfter(now)
}

// Prune drops the limiters of keys whose buckets have refilled, and
// returns how many were dropped.
func (g *Group) Prune() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for k, l := range g.limiters {
		if l.full(now) {
			delete(g.limiters, k)
			n++
		}
	}
	return n
}

// Len is the number of tracked keys.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
