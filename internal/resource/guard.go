// Package resource paces the load generator's producer and consumer
// sides and measures container CPU/memory pressure; high CPU backs off
// consumption (AllowConsume).
// Grounded on ws/internal/shared/limits/resource_guard.go, adapted
// from "reject websocket connections / pause kafka consumption" to
// "pace synthetic message production and consumption." CPU sampling
// is container-aware per cgroup.go/cgroup_cpu.go: usage is read
// straight from the cgroup filesystem and normalized against the
// cgroup's own quota/period, falling back to gopsutil host-wide
// sampling scaled by the configured/detected CPU allocation when no
// cgroup is present.
package resource

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// Config mirrors the resource-related fields of the load generator's
// top-level configuration, kept independent of internal/config so
// this package stays reusable in tests.
type Config struct {
	ProduceRatePerSec int
	CPULimit          float64 // CPUs allocated; used only when cgroup quota/period can't be read
	MemoryLimit       int64   // bytes; used only when cgroup memory.max can't be read
	CPURejectThreshold float64
	CPUPauseThreshold  float64
}

// Guard paces produce/consume operations with a token bucket and
// exposes a CPU/memory-based emergency brake, grounded on the
// teacher's ResourceGuard.AllowKafkaMessage / ShouldPauseKafka /
// ShouldAcceptConnection shape.
type Guard struct {
	cfg Config

	logger zerolog.Logger

	produceLimiter *rate.Limiter
	consumeLimiter *rate.Limiter

	currentCPU atomic.Value // float64, percent of allocated CPU(s)

	cgroupPath    string
	cgroupVersion int     // 0 when undetected: sample() falls back to host-wide measurement
	cpuAllocated  float64 // number of CPUs this process may use

	memoryLimitBytes int64 // 0 means no memory brake is enforced

	lastCPUUsageUsec uint64
	lastSampleTime   time.Time
}

// New constructs a Guard. A produce rate of 0 means unbounded (the
// limiter is still created but with an effectively infinite rate).
// CPU allocation and memory limit are detected from the cgroup
// filesystem; cfg.CPULimit/cfg.MemoryLimit are used only as a fallback
// when cgroup files are unreadable (non-containerized host, dev
// machine).
func New(cfg Config, logger zerolog.Logger) *Guard {
	produceLimit := rate.Limit(cfg.ProduceRatePerSec)
	burst := cfg.ProduceRatePerSec * 2
	if cfg.ProduceRatePerSec <= 0 {
		produceLimit = rate.Inf
		burst = 1
	}

	g := &Guard{
		cfg:            cfg,
		logger:         logger,
		produceLimiter: rate.NewLimiter(produceLimit, burst),
		consumeLimiter: rate.NewLimiter(rate.Inf, 1), // consumption itself is never artificially capped by default
		lastSampleTime: time.Now(),
	}
	g.currentCPU.Store(0.0)

	g.cgroupPath, g.cgroupVersion = detectCgroupPath()

	if quota, period, err := readCPUQuota(g.cgroupPath, g.cgroupVersion); g.cgroupVersion != 0 && err == nil && quota > 0 && period > 0 {
		g.cpuAllocated = float64(quota) / float64(period)
	} else if cfg.CPULimit > 0 {
		g.cpuAllocated = cfg.CPULimit
	} else {
		g.cpuAllocated = float64(runtime.NumCPU())
	}

	if limit, err := readMemoryLimitBytes(); err == nil && limit > 0 {
		g.memoryLimitBytes = limit
	} else {
		g.memoryLimitBytes = cfg.MemoryLimit
	}

	if usage, err := readCPUUsageUsec(g.cgroupPath, g.cgroupVersion); g.cgroupVersion != 0 && err == nil {
		g.lastCPUUsageUsec = usage
	} else {
		g.cgroupVersion = 0 // no usable cgroup cpu accounting; sample() uses gopsutil instead
	}

	logger.Info().
		Int("cgroup_version", g.cgroupVersion).
		Float64("cpu_allocated", g.cpuAllocated).
		Int64("memory_limit_bytes", g.memoryLimitBytes).
		Msg("resource guard initialized")

	return g
}

// AllowProduce blocks (respecting ctx) until the producer is allowed
// to send its next message, per the configured produce rate.
func (g *Guard) AllowProduce(ctx context.Context) error {
	return g.produceLimiter.Wait(ctx)
}

// AllowConsume reports whether the consumer may process its next
// poll iteration; callers retry on false. When CPU usage is above the
// pause threshold it waits up to 100ms (or until ctx is done) before
// returning false, so a retry loop backs off; otherwise it does not
// block. This implements the kafka.ResourceGuard interface.
func (g *Guard) AllowConsume(ctx context.Context) bool {
	if g.ShouldPause() {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
		return false
	}
	return g.consumeLimiter.Allow()
}

// ShouldPause reports whether CPU usage has crossed the pause
// threshold and new consumption should be backed off.
func (g *Guard) ShouldPause() bool {
	return g.currentCPU.Load().(float64) > g.cfg.CPUPauseThreshold
}

// ShouldReject reports whether CPU usage has crossed the reject
// threshold, or process memory has exceeded the configured/detected
// memory limit, mirroring the teacher's ShouldAcceptConnection
// CPU/memory emergency brakes. Nothing in this module calls it: the
// workload runner paces production through AllowProduce only.
func (g *Guard) ShouldReject() bool {
	if g.currentCPU.Load().(float64) > g.cfg.CPURejectThreshold {
		return true
	}
	if g.memoryLimitBytes <= 0 {
		return false
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return int64(mem.Alloc) > g.memoryLimitBytes
}

// StartMonitoring periodically samples CPU usage and updates the
// guard's internal state, grounded on the teacher's
// ResourceGuard.StartMonitoring / UpdateResources loop.
func (g *Guard) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sample()
			}
		}
	}()
}

// sample updates currentCPU with usage normalized against the number
// of CPUs this process is actually allocated. When a cgroup was
// detected at startup, usage comes straight from the cgroup's own
// cpu.stat/cpuacct.usage counters (cgroup.go); otherwise it falls back
// to gopsutil's host-wide average, scaled by host core count over the
// allocated share so a 1-CPU allocation on an 8-core host still reads
// close to 100% when that one CPU is saturated.
func (g *Guard) sample() {
	if g.cgroupVersion != 0 {
		usage, err := readCPUUsageUsec(g.cgroupPath, g.cgroupVersion)
		if err == nil {
			now := time.Now()
			elapsedUsec := now.Sub(g.lastSampleTime).Microseconds()
			if elapsedUsec > 0 && usage >= g.lastCPUUsageUsec {
				rawPercent := (float64(usage-g.lastCPUUsageUsec) / float64(elapsedUsec)) * 100.0
				g.currentCPU.Store(rawPercent / g.cpuAllocated)
			}
			g.lastCPUUsageUsec = usage
			g.lastSampleTime = now
			g.logState()
			return
		}
		g.logger.Warn().Err(err).Msg("cgroup cpu read failed, falling back to host sampling")
		g.cgroupVersion = 0
	}

	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		g.logger.Warn().Err(err).Msg("failed to sample cpu usage")
		return
	}
	g.currentCPU.Store(percents[0] * float64(runtime.NumCPU()) / g.cpuAllocated)
	g.logState()
}

func (g *Guard) logState() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	g.logger.Debug().
		Float64("cpu_percent_of_allocation", g.currentCPU.Load().(float64)).
		Float64("cpu_cpus_allocated", g.cpuAllocated).
		Uint64("heap_alloc_bytes", mem.Alloc).
		Int64("memory_limit_bytes", g.memoryLimitBytes).
		Msg("resource state updated")
}
