// Package ratelimit provides token buckets for inbound frames and for
// websocket upgrades keyed by remote address.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewLimiter returns a bucket refilled at rate tokens per second holding at
// most burst tokens. It starts full.
func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

// refill must be called with mu held.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// idleSince reports whether the bucket has not been touched since t.
func (l *Limiter) idleSince(t time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUpdate.Before(t)
}

// ClientLimiters hands out one Limiter per key and forgets keys that have
// been idle for longer than the idle timeout.
type ClientLimiters struct {
	limiters    map[string]*Limiter
	rate        float64
	burst       int
	idleTimeout time.Duration
	now         func() time.Time
	mu          sync.Mutex
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	cl := newClientLimiters(rate, burst, 5*time.Minute, time.Now)
	go cl.cleanup()
	return cl
}

func newClientLimiters(rate float64, burst int, idle time.Duration, now func() time.Time) *ClientLimiters {
	return &ClientLimiters{
		limiters:    make(map[string]*Limiter),
		rate:        rate,
		burst:       burst,
		idleTimeout: idle,
		now:         now,
		stop:        make(chan struct{}),
	}
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, ok := cl.limiters[key]
	if !ok {
		limiter = newLimiter(cl.rate, cl.burst, cl.now)
		cl.limiters[key] = limiter
	}
	return limiter
}

// Allow spends one token from key's bucket.
func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Remove(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, key)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.idleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.sweep()
		}
	}
}

// sweep drops buckets idle past the timeout.
func (cl *ClientLimiters) sweep() int {
	cutoff := cl.now().Add(-cl.idleTimeout)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	removed := 0
	for key, l := range cl.limiters {
		if l.idleSince(cutoff) {
			delete(cl.limiters, key)
			removed++
		}
	}
	return removed
}
