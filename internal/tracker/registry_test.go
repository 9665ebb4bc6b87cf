package tracker

import (
	"testing"

	"github.com/brokerbench/loadgen/internal/counters"
)

func TestRegistryLazyCreation(t *testing.T) {
	created := 0
	reg := NewRegistry(func(topic string) counters.Set {
		created++
		return counters.NewAtomicSet()
	})

	a := reg.TrackerFor("orders")
	b := reg.TrackerFor("orders")
	if a != b {
		t.Fatal("TrackerFor returned different trackers for the same topic")
	}
	if created != 1 {
		t.Errorf("sinkFactory called %d times, want 1", created)
	}

	reg.TrackerFor("payments")
	if created != 2 {
		t.Errorf("sinkFactory called %d times, want 2", created)
	}

	topics := reg.Topics()
	if len(topics) != 2 {
		t.Errorf("Topics() = %v, want 2 entries", topics)
	}
}

func TestRegistryCloseAllFlushesEveryTracker(t *testing.T) {
	reg := NewRegistry(func(topic string) counters.Set {
		return counters.NewAtomicSet()
	})

	orders := reg.TrackerFor("orders")
	orders.SequenceNumberReceived(0)
	orders.SequenceNumberReceived(2) // 1 left pending

	payments := reg.TrackerFor("payments")
	payments.SequenceNumberReceived(0)
	payments.SequenceNumberReceived(1)

	reg.CloseAll()

	snap := reg.Snapshot()
	if snap["orders"].Loss != 1 {
		t.Errorf("orders loss = %d, want 1", snap["orders"].Loss)
	}
	if snap["payments"].Loss != 0 {
		t.Errorf("payments loss = %d, want 0", snap["payments"].Loss)
	}

	// Idempotent: closing twice doesn't change anything.
	reg.CloseAll()
	snap2 := reg.Snapshot()
	if snap2["orders"] != snap["orders"] {
		t.Errorf("second CloseAll changed orders snapshot: %+v -> %+v", snap["orders"], snap2["orders"])
	}
}
