// Package workload drives the ramp-then-sustain produce-side traffic
// pattern, grounded on loadtest/main.go's rampUpConnections/sustain
// phase model — adapted from "open N websocket connections" to
// "produce N messages/sec in total, round-robin across topics," since
// this load generator's traffic is synthetic broker messages rather
// than client connections.
package workload

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/brokerbench/loadgen/internal/resource"
)

// Phase names published to telemetry and logged at each transition.
const (
	PhaseRamping    = "ramping"
	PhaseSustaining = "sustaining"
	PhaseCompleted  = "completed"
)

// Producer is the subset of internal/kafka.Producer the workload
// driver needs, kept as an interface so tests can fake it.
type Producer interface {
	Produce(ctx context.Context, topic string, payload []byte, targetMax int64)
}

// PhaseNotifier receives phase transitions. internal/telemetry.Bus
// satisfies it; nil is fine for telemetry-disabled runs.
type PhaseNotifier interface {
	Phase(phase string)
}

// Config describes one workload run.
type Config struct {
	Topics         []string
	ProduceRate    int // total messages/sec across all topics, ramped up to
	RampSeconds    int
	SustainSeconds int
	CycleCount     int64 // 0 = unbounded; otherwise stamped as sequence_tgt_max
}

// Runner executes a Config's ramp-then-sustain cycle against a
// Producer, pacing itself through a resource.Guard the same way
// internal/kafka.Consumer paces polling.
type Runner struct {
	cfg      Config
	producer Producer
	guard    *resource.Guard
	notifier PhaseNotifier
	logger   zerolog.Logger

	sent map[string]int64 // topic -> messages produced so far, for CycleCount enforcement
}

// NewRunner constructs a workload Runner. notifier may be nil.
func NewRunner(cfg Config, producer Producer, guard *resource.Guard, notifier PhaseNotifier, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		producer: producer,
		guard:    guard,
		notifier: notifier,
		logger:   logger,
		sent:     make(map[string]int64, len(cfg.Topics)),
	}
}

// Run drives the ramp and sustain phases to completion or until ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.setPhase(PhaseRamping)
	r.logger.Info().
		Strs("topics", r.cfg.Topics).
		Int("produce_rate", r.cfg.ProduceRate).
		Int("ramp_seconds", r.cfg.RampSeconds).
		Int("sustain_seconds", r.cfg.SustainSeconds).
		Msg("workload starting")

	rampStart := time.Now()
	rampEnd := rampStart.Add(time.Duration(r.cfg.RampSeconds) * time.Second)
	if !r.runPhase(ctx, rampEnd, r.rampTargetRate(rampStart, rampEnd)) {
		return
	}

	r.setPhase(PhaseSustaining)
	sustainEnd := time.Now().Add(time.Duration(r.cfg.SustainSeconds) * time.Second)
	if !r.runPhase(ctx, sustainEnd, func(time.Time) int { return r.cfg.ProduceRate }) {
		return
	}

	r.setPhase(PhaseCompleted)
	r.logger.Info().Msg("workload completed")
}

// runPhase produces at targetRate(now) messages/sec, round-robining
// across topics, until deadline or ctx cancellation. Returns false if
// the run was cancelled (caller should stop immediately).
func (r *Runner) runPhase(ctx context.Context, deadline time.Time, targetRate func(time.Time) int) bool {
	limiter := rate.NewLimiter(rate.Limit(targetRate(time.Now())), 1)
	topicIdx := 0

	for {
		now := time.Now()
		if now.After(deadline) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		default:
		}

		limiter.SetLimit(rate.Limit(maxRate(targetRate(now), 1)))
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if r.guard != nil {
			if err := r.guard.AllowProduce(ctx); err != nil {
				return false
			}
		}

		topic := r.cfg.Topics[topicIdx%len(r.cfg.Topics)]
		topicIdx++

		if r.cfg.CycleCount > 0 && r.sent[topic] >= r.cfg.CycleCount {
			continue
		}

		r.producer.Produce(ctx, topic, []byte("{}"), r.targetMaxFor(topic))
		r.sent[topic]++
	}
}

// targetMaxFor reports the advisory sequence_tgt_max for topic, or -1
// (unknown) when CycleCount is unbounded.
func (r *Runner) targetMaxFor(topic string) int64 {
	if r.cfg.CycleCount <= 0 {
		return -1
	}
	return r.cfg.CycleCount - 1
}

// rampTargetRate returns a rate function that linearly ramps from
// 1 msg/sec up to the full configured rate across [start, end).
func (r *Runner) rampTargetRate(start, end time.Time) func(time.Time) int {
	span := end.Sub(start)
	if span <= 0 {
		return func(time.Time) int { return r.cfg.ProduceRate }
	}
	return func(now time.Time) int {
		elapsed := now.Sub(start)
		if elapsed >= span {
			return r.cfg.ProduceRate
		}
		fraction := float64(elapsed) / float64(span)
		return maxRate(int(fraction*float64(r.cfg.ProduceRate)), 1)
	}
}

func (r *Runner) setPhase(phase string) {
	r.logger.Debug().Str("phase", phase).Msg("workload phase transition")
	if r.notifier != nil {
		r.notifier.Phase(phase)
	}
}

func maxRate(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
