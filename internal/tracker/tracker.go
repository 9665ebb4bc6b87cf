// Package tracker implements the Received Message Sequence Tracker: a
// small, stateful, single-threaded classifier that reconciles a
// partially-ordered, lossy stream of per-topic sequence numbers
// against a monotonic ground truth using bounded memory.
package tracker

import (
	"sort"
	"sync"

	"github.com/brokerbench/loadgen/internal/counters"
)

// MaxTrackOutOfOrder bounds the reordering window: the maximum number
// of sequence numbers the tracker will hold ahead of the confirmed
// frontier before declaring the oldest of them lost.
const MaxTrackOutOfOrder = 1000

// notStarted is the sentinel expected_next value before the tracker
// has seen its first sequence number.
const notStarted int64 = -1

// Tracker is a per-topic sliding-window sequence classifier. It is
// deliberately not safe for concurrent use: the owning consumer
// thread must funnel all SequenceNumberReceived calls for a topic
// through a single goroutine.
type Tracker struct {
	mu sync.Mutex // guards the fields below; see note on concurrency

	expectedNext int64
	pending      []int64 // sorted ascending, len <= MaxTrackOutOfOrder

	sinks counters.Set

	started bool
	closed  bool

	// targetMax is the advisory sequence_tgt_max ceiling (O2). -1
	// means "no ceiling known."
	targetMax int64
}

// New constructs a Tracker reporting into the three given counter
// sinks, per spec §4.1's "new(out_of_seq, duplicate, loss) -> Tracker"
// contract.
//
// The mutex guarding a Tracker's fields is not part of the tracker's
// documented contract (§5 promises a lock-free, single-threaded core);
// it exists only as a cheap safety net against accidental cross-thread
// use and never blocks under correct usage, since no caller holds it
// across another call.
func New(sinks counters.Set) *Tracker {
	return &Tracker{
		expectedNext: notStarted,
		targetMax:    -1,
		sinks:        sinks,
	}
}

// SetTargetMax records the advisory sequence_tgt_max ceiling (spec §9
// O2) that Close uses. It may be called any number of times (the
// consumer calls it for every record carrying the header); each call
// overwrites the ceiling with the newest value seen.
func (t *Tracker) SetTargetMax(max int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targetMax = max
}

// SequenceNumberReceived feeds one observation to the tracker,
// implementing the classification algorithm of spec §4.1.
func (t *Tracker) SequenceNumberReceived(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Rule 5: first observation establishes the baseline.
	if !t.started {
		t.started = true
		t.expectedNext = n - 1
		t.advanceThrough(n)
		return
	}

	switch {
	case n < t.expectedNext:
		// Rule 4: strictly behind the confirmed frontier. Under the
		// reference semantic adopted here (see SPEC_FULL.md §4.1,
		// O1), every such number is out-of-seq. The tracker does not
		// remember whether the slot was declared lost or had already
		// been confirmed in order, so a late repeat of a confirmed
		// number is also counted here, not as a duplicate.
		t.sinks.OutOfSeq.Inc(1)

	case n == t.expectedNext:
		// Rule 1: at the confirmed frontier.
		t.sinks.Duplicate.Inc(1)

	case t.inPending(n):
		// Rule 1: already parked in the window.
		t.sinks.Duplicate.Inc(1)

	case n == t.expectedNext+1:
		// Rule 2: in-order advance.
		t.advanceThrough(n)

	default:
		// Rule 3: ahead-of-order; park it, then flush on overflow.
		t.insertPending(n)
		t.flushOverflow()
	}
}

// advanceThrough sets expectedNext to n, then repeatedly consumes any
// consecutive successors already present in pending (rule 2/3's
// "advance through consecutive numbers" step).
func (t *Tracker) advanceThrough(n int64) {
	t.expectedNext = n
	for {
		next := t.expectedNext + 1
		idx := sort.Search(len(t.pending), func(i int) bool { return t.pending[i] >= next })
		if idx >= len(t.pending) || t.pending[idx] != next {
			return
		}
		t.pending = append(t.pending[:idx], t.pending[idx+1:]...)
		t.expectedNext = next
	}
}

// flushOverflow performs the window-overflow loss inference of rule 3
// whenever the pending window exceeds MaxTrackOutOfOrder.
func (t *Tracker) flushOverflow() {
	for len(t.pending) > MaxTrackOutOfOrder {
		m := t.pending[0]
		t.sinks.Loss.Inc(uint64(m - (t.expectedNext + 1)))
		t.pending = t.pending[1:]
		t.advanceThrough(m)
	}
}

func (t *Tracker) inPending(n int64) bool {
	idx := sort.Search(len(t.pending), func(i int) bool { return t.pending[i] >= n })
	return idx < len(t.pending) && t.pending[idx] == n
}

func (t *Tracker) insertPending(n int64) {
	idx := sort.Search(len(t.pending), func(i int) bool { return t.pending[i] >= n })
	if idx < len(t.pending) && t.pending[idx] == n {
		return // already present; defensive, callers only insert new numbers
	}
	t.pending = append(t.pending, 0)
	copy(t.pending[idx+1:], t.pending[idx:])
	t.pending[idx] = n
}

// Close finalizes the tracker: it flushes the pending window,
// inferring loss for every missing slot between expectedNext+1 and the
// largest pending number (or the advisory target ceiling, whichever is
// greater — spec §9 O2), per spec §4.1's close-out rule. Close is
// idempotent: a second call flushes an already-empty window, a no-op.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *Tracker) closeLocked() {
	if !t.started {
		// Nothing was ever observed; there is no frontier to close
		// out from.
		t.closed = true
		return
	}

	limit := t.expectedNext
	if len(t.pending) > 0 {
		limit = t.pending[len(t.pending)-1]
	}
	if t.targetMax >= 0 && t.targetMax > limit {
		limit = t.targetMax
	}

	// Every value in (expectedNext, limit] is either in pending or lost.
	// pending only ever holds values within that range (limit is never
	// less than pending's own max), so the loss count is the range size
	// minus how much of it pending already accounts for. limit can be
	// pushed arbitrarily far out by an advertised sequence_tgt_max, so
	// this must stay O(1) rather than walk the range one by one.
	span := limit - t.expectedNext
	if loss := span - int64(len(t.pending)); loss > 0 {
		t.sinks.Loss.Inc(uint64(loss))
	}

	t.expectedNext = limit
	t.pending = t.pending[:0]
	t.closed = true
}

// Snapshot returns the current counter values, for diagnostics and the
// telemetry/dashboard layers. It does not mutate tracker state.
type Snapshot struct {
	OutOfSeq  uint64
	Duplicate uint64
	Loss      uint64
}

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		OutOfSeq:  t.sinks.OutOfSeq.Value(),
		Duplicate: t.sinks.Duplicate.Value(),
		Loss:      t.sinks.Loss.Value(),
	}
}
