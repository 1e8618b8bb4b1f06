package chat

import (
	"testing"
	"time"
)

// newTestBucket returns a bucket driven by a controllable clock.
func newTestBucket(capacity, refillRate float64) (*TokenBucket, *time.Time) {
	now := time.Unix(1000, 0)
	b := NewTokenBucket(capacity, refillRate)
	b.now = func() time.Time { return now }
	b.lastRefill = now
	return b, &now
}

func TestTokenBucket(t *testing.T) {
	t.Run("StartsFull", func(t *testing.T) {
		b, _ := newTestBucket(5, 1)
		if got := b.Level(); got != 5 {
			t.Errorf("expected full bucket, got level %v", got)
		}
	})

	t.Run("AdmitsUpToCapacity", func(t *testing.T) {
		b, _ := newTestBucket(5, 1)
		for i := 0; i < 5; i++ {
			if !b.Admit(1) {
				t.Fatalf("admission %d should succeed", i)
			}
		}
		if b.Admit(1) {
			t.Error("admission past capacity should be denied")
		}
	})

	t.Run("NeverDeniesWhenSpacedByRefillInterval", func(t *testing.T) {
		// Messages spaced >= 1/R seconds apart must always be admitted.
		b, now := newTestBucket(1, 2) // refill interval is 0.5s
		if !b.Admit(1) {
			t.Fatal("first admission should succeed")
		}
		for i := 0; i < 20; i++ {
			*now = now.Add(500 * time.Millisecond)
			if !b.Admit(1) {
				t.Fatalf("admission %d should succeed after refill interval", i)
			}
		}
	})

	t.Run("DenialLeavesLevelUnchanged", func(t *testing.T) {
		b, _ := newTestBucket(5, 1)
		for i := 0; i < 5; i++ {
			b.Admit(1)
		}
		before := b.Level()
		if b.Admit(1) {
			t.Fatal("expected denial")
		}
		if got := b.Level(); got != before {
			t.Errorf("denied call changed level: before %v, after %v", before, got)
		}
		// A second denied call is just as inert.
		if b.Admit(1) {
			t.Fatal("expected denial")
		}
		if got := b.Level(); got != before {
			t.Errorf("repeated denial changed level: before %v, after %v", before, got)
		}
	})

	t.Run("RefillIsCappedAtCapacity", func(t *testing.T) {
		b, now := newTestBucket(3, 10)
		b.Admit(1)
		*now = now.Add(time.Hour)
		if got := b.Level(); got != 3 {
			t.Errorf("expected level capped at 3, got %v", got)
		}
	})

	t.Run("PartialRefillAccumulates", func(t *testing.T) {
		b, now := newTestBucket(5, 1)
		for i := 0; i < 5; i++ {
			b.Admit(1)
		}
		*now = now.Add(300 * time.Millisecond)
		if b.Admit(1) {
			t.Error("0.3 tokens should not admit cost 1")
		}
		*now = now.Add(700 * time.Millisecond)
		if !b.Admit(1) {
			t.Error("a full second of refill should admit cost 1")
		}
	})
}
