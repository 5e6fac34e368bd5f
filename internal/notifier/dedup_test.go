package notifier

import (
	"testing"
	"time"
)

func TestSuppressorExpiryAndCap(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newSuppressor()

	p.mark("pidgey", now.Add(time.Minute), now, 2)
	p.mark("rattata", now.Add(2*time.Minute), now, 2)
	if !p.active("pidgey", now) || !p.active("rattata", now) {
		t.Fatal("fresh keys must be suppressed")
	}

	// Over the cap: the soonest expiry goes first.
	p.mark("snorlax", now.Add(3*time.Minute), now, 2)
	if p.active("pidgey", now) || p.len() != 2 {
		t.Fatalf("pidgey should be evicted, len = %d", p.len())
	}

	// Re-marking extends; the stale heap entry must not evict it early.
	later := now.Add(90 * time.Second)
	p.mark("rattata", now.Add(10*time.Minute), later, 0)
	p.mark("tick", later.Add(time.Second), now.Add(4*time.Minute), 0)
	if !p.active("rattata", now.Add(4*time.Minute)) {
		t.Fatal("extended key expired early")
	}
	if p.active("snorlax", now.Add(4*time.Minute)) {
		t.Fatal("expired key still active")
	}
}
