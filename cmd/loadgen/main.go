// Command loadgen drives synthetic, sequence-numbered Kafka traffic
// and classifies what comes back out as in-order, duplicate, lost, or
// out-of-sequence. Wiring grounded on ws/main.go: automaxprocs side
// effect, flag-overridable config, structured logger, signal-driven
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	_ "go.uber.org/automaxprocs"

	"github.com/brokerbench/loadgen/internal/config"
	"github.com/brokerbench/loadgen/internal/counters"
	"github.com/brokerbench/loadgen/internal/dashboard"
	"github.com/brokerbench/loadgen/internal/kafka"
	"github.com/brokerbench/loadgen/internal/logging"
	"github.com/brokerbench/loadgen/internal/resource"
	"github.com/brokerbench/loadgen/internal/telemetry"
	"github.com/brokerbench/loadgen/internal/tracker"
	"github.com/brokerbench/loadgen/internal/workload"
)

func splitList(s string) []string {
	result := []string{}
	for _, part := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// registrySnapshot adapts tracker.Registry's Snapshot to the type
// dashboard.CountersSource expects, keeping dashboard decoupled from
// the tracker package.
type registrySnapshot struct {
	registry *tracker.Registry
}

func (r registrySnapshot) Snapshot() map[string]dashboard.Snapshot {
	src := r.registry.Snapshot()
	out := make(map[string]dashboard.Snapshot, len(src))
	for topic, snap := range src {
		out[topic] = dashboard.Snapshot{
			OutOfSeq:  snap.OutOfSeq,
			Duplicate: snap.Duplicate,
			Loss:      snap.Loss,
		}
	}
	return out
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides RMST_LOG_LEVEL)")
	flag.Parse()

	maxProcs := runtime.GOMAXPROCS(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Int("gomaxprocs", maxProcs).Msg("starting")
	cfg.LogConfig(logger)

	brokers := splitList(cfg.KafkaBrokers)
	topics := splitList(cfg.Topics)
	if len(topics) == 0 {
		logger.Fatal().Msg("RMST_TOPICS must name at least one topic")
	}

	guard := resource.New(resource.Config{
		ProduceRatePerSec:  cfg.ProduceRate,
		CPULimit:           cfg.CPULimit,
		MemoryLimit:        cfg.MemoryLimit,
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	guard.StartMonitoring(ctx, cfg.MetricsInterval)

	bus, err := telemetry.Connect(cfg.NATSURL, fmt.Sprintf("%d", time.Now().Unix()), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry bus unavailable, continuing without it")
		bus = nil
	}
	defer bus.Close()

	registry := tracker.NewRegistry(func(topic string) counters.Set {
		return counters.NewPrometheusSet(topic)
	})

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       brokers,
		ConsumerGroup: cfg.ConsumerGroup,
		Topics:        topics,
		Logger:        logger,
		Registry:      registry,
		ResourceGuard: guard,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	consumer.Start()

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: brokers,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka producer")
	}

	dash := dashboard.New(registrySnapshot{registry: registry}, cfg.MetricsInterval, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	dashboardMux := http.NewServeMux()
	dashboardMux.Handle("/counters", dash.Handler())

	var servers sync.WaitGroup
	servers.Add(2)
	go func() {
		defer servers.Done()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		defer servers.Done()
		logger.Info().Str("addr", cfg.DashboardAddr).Msg("dashboard server listening")
		if err := http.ListenAndServe(cfg.DashboardAddr, dashboardMux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("dashboard server stopped")
		}
	}()
	go dash.Run(ctx)

	runner := workload.NewRunner(workload.Config{
		Topics:         topics,
		ProduceRate:    cfg.ProduceRate,
		RampSeconds:    cfg.RampSeconds,
		SustainSeconds: cfg.SustainSeconds,
		CycleCount:     cfg.CycleCount,
	}, producer, guard, bus, logger)

	if bus != nil {
		bus.RunStarted(topics, cfg.ProduceRate)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		runner.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-runDone:
		logger.Info().Msg("workload finished")
	}

	cancel()
	consumer.Stop()
	producer.Close()
	registry.CloseAll()
	if bus != nil {
		bus.RunStopped()
	}

	logger.Info().Msg("shutdown complete")
}
