package chat

import "time"

// TokenBucket tracks a refillable quota of permitted actions for one session.
// Refill is computed lazily on each Admit call, so no background timer is
// needed. The bucket has no internal locking: the owning session serializes
// access to it.
type TokenBucket struct {
	capacity   float64
	level      float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket that starts full.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	b := &TokenBucket{
		capacity:   capacity,
		level:      capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Admit refills the bucket for the elapsed time, then attempts to spend cost
// tokens. A denied call leaves the level untouched beyond the refill.
func (b *TokenBucket) Admit(cost float64) bool {
	b.refill()
	if b.level < cost {
		return false
	}
	b.level -= cost
	return true
}

// Level reports the current token level after applying any pending refill.
func (b *TokenBucket) Level() float64 {
	b.refill()
	return b.level
}

func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.level += elapsed * b.refillRate
		if b.level > b.capacity {
			b.level = b.capacity
		}
	}
	b.lastRefill = now
}
