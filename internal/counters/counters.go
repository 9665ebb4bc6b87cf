// Package counters defines the monotonic counter sinks the tracker
// reports into, and a Prometheus-backed implementation of them.
package counters

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is a single monotonic counter handle. Implementations must
// support concurrent Inc calls from the owning consumer thread and
// concurrent Value reads from metric reporters with weak consistency.
type Sink interface {
	Inc(delta uint64)
	Value() uint64
}

// AtomicSink is a Sink backed by a plain atomic integer, used in tests
// and anywhere a Prometheus registry isn't available.
type AtomicSink struct {
	v uint64
}

func (s *AtomicSink) Inc(delta uint64) {
	if delta == 0 {
		return
	}
	atomic.AddUint64(&s.v, delta)
}

func (s *AtomicSink) Value() uint64 {
	return atomic.LoadUint64(&s.v)
}

// promSink wraps a prometheus.Counter plus a local atomic mirror so
// Value() can be read back without scraping the registry.
type promSink struct {
	c prometheus.Counter
	v uint64
}

func (s *promSink) Inc(delta uint64) {
	if delta == 0 {
		return
	}
	s.c.Add(float64(delta))
	atomic.AddUint64(&s.v, delta)
}

func (s *promSink) Value() uint64 {
	return atomic.LoadUint64(&s.v)
}

// Set is the three sinks a Tracker is constructed with: out-of-seq,
// duplicate, and loss, per spec §3/§6.
type Set struct {
	OutOfSeq  Sink
	Duplicate Sink
	Loss      Sink
}

// NewPrometheusSet registers the three rmst_* counters under the given
// topic label and returns a Set backed by them. Grounded on
// ws/metrics.go's promauto.NewCounter usage.
func NewPrometheusSet(topic string) Set {
	labels := prometheus.Labels{"topic": topic}
	return Set{
		OutOfSeq: &promSink{c: outOfSeqTotal.With(labels)},
		Duplicate: &promSink{c: duplicateTotal.With(labels)},
		Loss:      &promSink{c: lossTotal.With(labels)},
	}
}

// NewAtomicSet returns a Set backed by in-process atomics, for tests
// and for callers that don't want a Prometheus dependency.
func NewAtomicSet() Set {
	return Set{
		OutOfSeq:  &AtomicSink{},
		Duplicate: &AtomicSink{},
		Loss:      &AtomicSink{},
	}
}

var (
	outOfSeqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmst_out_of_seq_total",
		Help: "Total number of sequence numbers observed strictly behind an already-lost frontier",
	}, []string{"topic"})

	duplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmst_duplicate_total",
		Help: "Total number of duplicate sequence number observations",
	}, []string{"topic"})

	lossTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rmst_loss_total",
		Help: "Total number of sequence numbers inferred lost (window overflow or close-out)",
	}, []string{"topic"})
)
