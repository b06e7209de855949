// Package ratelimit caps the byte rate of file operations.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

const pollInterval = 10 * time.Millisecond

// TokenBucket hands out byte tokens at a fixed rate up to burst.
type TokenBucket struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	available  float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return newTokenBucket(rate, burst, time.Now)
}

func newTokenBucket(rate float64, burst int, now func() time.Time) *TokenBucket {
	return &TokenBucket{rate: rate, burst: burst, available: float64(burst), lastRefill: now(), now: now}
}

// Burst is the largest request Allow can ever grant.
func (tb *TokenBucket) Burst() int { return tb.burst }

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.available += elapsed * tb.rate
	if tb.available > float64(tb.burst) {
		tb.available = float64(tb.burst)
	}
	tb.lastRefill = now
}

// Allow consumes n tokens if available and returns true, otherwise false.
func (tb *TokenBucket) Allow(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(tb.now())
	if tb.available >= float64(n) {
		tb.available -= float64(n)
		return true
	}
	return false
}

// Wait blocks until n tokens are available or ctx is done. n is clamped to
// the burst size.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	if n > tb.burst {
		n = tb.burst
	}
	for {
		if tb.Allow(n) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Reader throttles reads from an underlying reader and stops with the
// context error once ctx is done. A nil bucket only checks ctx.
type Reader struct {
	ctx    context.Context
	r      io.Reader
	bucket *TokenBucket
}

// NewReader wraps r. Pass a nil bucket for an unthrottled, cancellable reader.
func NewReader(ctx context.Context, r io.Reader, bucket *TokenBucket) *Reader {
	return &Reader{ctx: ctx, r: r, bucket: bucket}
}

func (r *Reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.bucket != nil {
		if len(p) > r.bucket.Burst() {
			p = p[:r.bucket.Burst()]
		}
		if err := r.bucket.Wait(r.ctx, len(p)); err != nil {
			return 0, err
		}
	}
	return r.r.Read(p)
}
