// Package telemetry publishes load generator lifecycle and counter
// snapshot events to NATS for external dashboards. It never
// coordinates trackers across processes — it only republishes
// already-local counter values, so it does not reintroduce the
// cross-consumer-coordination Non-goal of spec §1. Grounded on
// go-server/pkg/nats/client.go's connect-options-plus-PublishJSON
// shape, trimmed to publish-only.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Bus is a best-effort NATS event publisher. A nil *Bus (returned when
// no URL is configured) is safe to call methods on — they become
// no-ops — so callers don't need to branch on whether telemetry is
// enabled.
type Bus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	run    string
}

// Connect dials the given NATS URL. If url is empty, Connect returns a
// nil *Bus and a nil error: telemetry is simply disabled.
func Connect(url string, runID string, logger zerolog.Logger) (*Bus, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("telemetry bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("telemetry bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telemetry bus: %w", err)
	}

	return &Bus{conn: conn, logger: logger, run: runID}, nil
}

func (b *Bus) subject(event string) string {
	return fmt.Sprintf("rmst.run.%s.%s", b.run, event)
}

func (b *Bus) publish(event string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("failed to marshal telemetry event")
		return
	}
	if err := b.conn.Publish(b.subject(event), data); err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("failed to publish telemetry event")
	}
}

// RunStarted announces the start of a load-test run.
func (b *Bus) RunStarted(topics []string, produceRate int) {
	b.publish("started", map[string]any{
		"topics":       topics,
		"produce_rate": produceRate,
		"at":           time.Now().UTC().Format(time.RFC3339),
	})
}

// Phase announces a workload phase transition (ramping/sustaining/completed).
func (b *Bus) Phase(phase string) {
	b.publish("phase", map[string]any{"phase": phase})
}

// CountersSnapshot publishes a per-topic counter snapshot.
func (b *Bus) CountersSnapshot(snapshot map[string]TopicCounters) {
	b.publish("counters_snapshot", snapshot)
}

// TopicCounters is the wire shape of a single topic's counters.
type TopicCounters struct {
	OutOfSeq  uint64 `json:"out_of_seq"`
	Duplicate uint64 `json:"duplicate"`
	Loss      uint64 `json:"loss"`
}

// RunStopped announces the end of a load-test run.
func (b *Bus) RunStopped() {
	b.publish("stopped", map[string]any{"at": time.Now().UTC().Format(time.RFC3339)})
}

// Close closes the underlying connection. Safe to call on a nil *Bus.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}
