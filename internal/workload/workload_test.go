package workload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeProducer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeProducer) Produce(_ context.Context, topic string, _ []byte, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, topic)
}

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu     sync.Mutex
	phases []string
}

func (f *fakeNotifier) Phase(phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phase)
}

func TestRunnerProducesAcrossTopicsAndReportsPhases(t *testing.T) {
	producer := &fakeProducer{}
	notifier := &fakeNotifier{}

	runner := NewRunner(Config{
		Topics:         []string{"a", "b"},
		ProduceRate:    50,
		RampSeconds:    0,
		SustainSeconds: 1,
	}, producer, nil, notifier, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runner.Run(ctx)

	if producer.count() == 0 {
		t.Fatal("expected at least one produced message")
	}

	notifier.mu.Lock()
	phases := append([]string(nil), notifier.phases...)
	notifier.mu.Unlock()

	if len(phases) < 2 || phases[0] != PhaseRamping {
		t.Fatalf("expected ramping to be the first phase, got %v", phases)
	}
	if phases[len(phases)-1] != PhaseCompleted {
		t.Fatalf("expected completed to be the last phase, got %v", phases)
	}
}

func TestRunnerRespectsCycleCount(t *testing.T) {
	producer := &fakeProducer{}

	runner := NewRunner(Config{
		Topics:         []string{"only"},
		ProduceRate:    1000,
		RampSeconds:    0,
		SustainSeconds: 1,
		CycleCount:     3,
	}, producer, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runner.Run(ctx)

	if got := producer.count(); got != 3 {
		t.Fatalf("CycleCount=3 should cap produced messages at 3, got %d", got)
	}
}

func TestRunnerStopsOnContextCancellation(t *testing.T) {
	producer := &fakeProducer{}

	runner := NewRunner(Config{
		Topics:         []string{"a"},
		ProduceRate:    10,
		RampSeconds:    0,
		SustainSeconds: 300,
	}, producer, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}
