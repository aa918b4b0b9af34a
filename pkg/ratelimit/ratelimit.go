// Package ratelimit implements an in-memory token-bucket limiter keyed by an
// arbitrary string such as a client address.
package ratelimit

import (
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter gives every key a bucket of burst tokens that refills at
// burst/window tokens per second.
type Limiter struct {
	burst  float64
	perSec float64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done      chan struct{}
	closeOnce sync.Once
}

// New allows limit requests per window for each key. It starts a goroutine
// that forgets idle keys; stop it with Close.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		burst:   float64(max(limit, 0)),
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	if window > 0 {
		l.perSec = l.burst / window.Seconds()
	}
	go l.sweep()
	return l
}

// Allow takes a token from key's bucket. When the bucket is empty it returns
// false and how long until the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l.burst == 0 {
		return false, l.window
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, seen: now}
		l.buckets[key] = b
	}
	b.tokens = min(l.burst, b.tokens+now.Sub(b.seen).Seconds()*l.perSec)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if l.perSec == 0 {
		return false, l.window
	}
	wait := time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	return false, wait
}

// Close stops the idle-key sweeper.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Limiter) sweep() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.forgetIdle()
		}
	}
}

// forgetIdle drops buckets untouched for two windows; by then they are full
// and indistinguishable from a new key.
func (l *Limiter) forgetIdle() {
	cutoff := l.now().Add(-2 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
