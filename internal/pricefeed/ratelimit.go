package pricefeed

import (
	"context"
	"sync"
	"time"
)

// tokenBucket throttles outbound REST calls. Bybit enforces per-key request
// limits on the v5 market endpoints; staying under them locally avoids
// retCode 10006 responses mid-poll.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	refillRate int // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity, refillRate int) *tokenBucket {
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// wait blocks until a token is available or the context is cancelled.
func (b *tokenBucket) wait(ctx context.Context) error {
	for {
		if b.allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second / time.Duration(b.refillRate)):
		}
	}
}

func (b *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed < time.Second {
		return
	}

	added := int(elapsed.Seconds()) * b.refillRate
	b.tokens += added
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}
