// Package ratelimit provides the per-session token bucket.
//
// DESIGN: Classic lazily-refilled bucket. There is no background goroutine;
// each Consume call first credits tokens for the wall-clock time elapsed
// since the previous call, capped at the burst maximum, then attempts the
// deduction. Safe to call at arbitrarily high frequency.
package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket allowing bursts up to a cap and refilling
// continuously at a fixed rate. Safe for concurrent use.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	last       time.Time

	now func() time.Time // injectable clock for tests
}

// NewBucket creates a full bucket with the given burst capacity and refill
// rate in tokens per second.
func NewBucket(maxTokens, refillRate float64) *Bucket {
	return &Bucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		last:       time.Now(),
		now:        time.Now,
	}
}

// Consume attempts to take n tokens. It refills first, then either deducts
// and returns true, or returns false leaving the token count untouched.
func (b *Bucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
	}
	b.last = now

	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// RetryAfter returns how long a rejected caller should wait before one
// token has been refilled.
func (b *Bucket) RetryAfter() time.Duration {
	return time.Duration(1000/b.refillRate) * time.Millisecond
}

// Tokens returns the current token count without refilling.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
