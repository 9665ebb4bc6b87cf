package tracker

import (
	"sync"

	"github.com/brokerbench/loadgen/internal/counters"
)

// SinkFactory builds the three counter sinks for a newly created
// topic tracker. Production callers pass counters.NewPrometheusSet;
// tests pass counters.NewAtomicSet.
type SinkFactory func(topic string) counters.Set

// Registry maps topic name to Tracker, creating trackers lazily on
// first lookup. The mutex guards map structure only — once a tracker
// exists, all further mutation happens on the owning consumer thread
// without registry involvement, matching the "lock only to
// create/look up" shape of the teacher's SubscriptionIndex
// (ws/internal/shared/connection.go).
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
	newSinks SinkFactory
}

// NewRegistry constructs an empty registry. sinkFactory is invoked at
// most once per distinct topic name.
func NewRegistry(sinkFactory SinkFactory) *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		newSinks: sinkFactory,
	}
}

// TrackerFor returns the tracker for topic, creating it on first use.
// Infallible, per spec §6's "tracker_for(topic) -> Tracker" contract.
func (r *Registry) TrackerFor(topic string) *Tracker {
	r.mu.RLock()
	tr, ok := r.trackers[topic]
	r.mu.RUnlock()
	if ok {
		return tr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.trackers[topic]; ok {
		return tr
	}
	tr = New(r.newSinks(topic))
	r.trackers[topic] = tr
	return tr
}

// CloseAll invokes Close on every known tracker, in unspecified order,
// per spec §4.2/§6.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tr := range r.trackers {
		tr.Close()
	}
}

// Topics returns the names of all trackers currently registered, for
// diagnostics (dashboard, telemetry snapshots).
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.trackers))
	for topic := range r.trackers {
		out = append(out, topic)
	}
	return out
}

// Snapshot returns the current per-topic counter snapshot for every
// known tracker.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.trackers))
	for topic, tr := range r.trackers {
		out[topic] = tr.Snapshot()
	}
	return out
}
