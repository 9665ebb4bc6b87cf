package counters

import "testing"

func TestAtomicSinkIncAndValue(t *testing.T) {
	s := &AtomicSink{}
	s.Inc(3)
	s.Inc(4)
	if got := s.Value(); got != 7 {
		t.Errorf("Value() = %d, want 7", got)
	}
}

func TestAtomicSinkIncZeroIsNoop(t *testing.T) {
	s := &AtomicSink{}
	s.Inc(0)
	if got := s.Value(); got != 0 {
		t.Errorf("Value() = %d, want 0", got)
	}
}

func TestNewAtomicSetIndependentSinks(t *testing.T) {
	set := NewAtomicSet()
	set.OutOfSeq.Inc(1)
	set.Duplicate.Inc(2)
	set.Loss.Inc(3)

	if got := set.OutOfSeq.Value(); got != 1 {
		t.Errorf("OutOfSeq = %d, want 1", got)
	}
	if got := set.Duplicate.Value(); got != 2 {
		t.Errorf("Duplicate = %d, want 2", got)
	}
	if got := set.Loss.Value(); got != 3 {
		t.Errorf("Loss = %d, want 3", got)
	}
}

func TestNewPrometheusSetDistinctTopicsDontShareState(t *testing.T) {
	a := NewPrometheusSet("topic-a")
	b := NewPrometheusSet("topic-b")

	a.Loss.Inc(5)
	if got := b.Loss.Value(); got != 0 {
		t.Errorf("topic-b Loss = %d, want 0 (unaffected by topic-a)", got)
	}
	if got := a.Loss.Value(); got != 5 {
		t.Errorf("topic-a Loss = %d, want 5", got)
	}
}
