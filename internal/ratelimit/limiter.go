// Package ratelimit keeps one token bucket per user.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter rate limits each key independently. Keys whose bucket has refilled
// are pruned on access.
type KeyedLimiter struct {
	mu       sync.Mutex
	visitors map[uuid.UUID]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	lastGC   time.Time
}

// New allows limit events per second per key with the given burst.
func New(limit rate.Limit, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		visitors: make(map[uuid.UUID]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// PerHour allows n events per hour per key, all of which may be spent at once.
func PerHour(n int) *KeyedLimiter {
	return New(rate.Limit(float64(n)/3600.0), n)
}

// Allow reports whether key may proceed now and consumes a token if so.
func (l *KeyedLimiter) Allow(key uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastGC) > l.idle {
		l.pruneLocked(now)
	}
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *KeyedLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.idle)
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) && v.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.visitors, k)
		}
	}
	l.lastGC = now
}
