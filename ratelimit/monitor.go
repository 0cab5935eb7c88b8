package ratelimit

import (
	"runtime"
	"sync"
	"time"

	"bastion/core"
	"bastion/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResourceSampler produces resource pressure snapshots. It is injected
// into the limiter so tests can substitute deterministic pressure
// without touching process state.
type ResourceSampler interface {
	Snapshot() core.ResourceSnapshot
}

const (
	// defaultSaturation is returned for any dimension that cannot be
	// measured. Conservative middle ground: neither "all clear" nor
	// "shed load".
	defaultSaturation = 0.5

	// cpuProbeIterations is the fixed work unit for the CPU proxy.
	cpuProbeIterations = 1 << 15
	// cpuProbeSlack scales how much probe slowdown maps to full saturation.
	cpuProbeSlack = 4
)

// cpuProbeSink defeats dead-code elimination of the probe loop.
var cpuProbeSink int64

// MonitorConfig tunes the runtime resource monitor.
type MonitorConfig struct {
	// MemoryLimitBytes is the heap budget the memory dimension is scored
	// against.
	MemoryLimitBytes uint64
	// SampleInterval caps how often fresh samples are taken; between
	// samples the cached snapshot is served.
	SampleInterval time.Duration
	// Connections reports (current, max) connection counts. Optional;
	// the dimension defaults to 0.5 when nil or max is zero.
	Connections func() (current, max int)
}

// Monitor samples process-level resource pressure. Snapshots are cheap:
// fresh sampling is throttled by SampleInterval and hot callers get the
// cached value. Snapshot never blocks and never fails.
type Monitor struct {
	cfg         MonitorConfig
	logger      *zap.SugaredLogger
	resample    *rate.Limiter
	cpuBaseline time.Duration

	mu   sync.Mutex
	last core.ResourceSnapshot
}

// NewMonitor creates a monitor and calibrates the CPU probe baseline.
func NewMonitor(cfg MonitorConfig, logger *zap.SugaredLogger) *Monitor {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		resample: rate.NewLimiter(rate.Every(cfg.SampleInterval), 1),
	}
	m.cpuBaseline = calibrateCPUProbe()
	m.last = m.sample()
	return m
}

// Snapshot returns the current resource pressure, serving the cached
// snapshot when called faster than the sample interval.
func (m *Monitor) Snapshot() core.ResourceSnapshot {
	if !m.resample.Allow() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.last
	}

	snap := m.sample()
	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	metrics.ResourcePressure.WithLabelValues("memory").Set(snap.MemoryUsage)
	metrics.ResourcePressure.WithLabelValues("cpu").Set(snap.CPUUsage)
	metrics.ResourcePressure.WithLabelValues("connections").Set(snap.ConnectionSaturation)
	return snap
}

func (m *Monitor) sample() core.ResourceSnapshot {
	return core.ResourceSnapshot{
		MemoryUsage:          m.sampleMemory(),
		CPUUsage:             m.sampleCPU(),
		ConnectionSaturation: m.sampleConnections(),
		SampledAt:            time.Now().UTC(),
	}
}

func (m *Monitor) sampleMemory() float64 {
	if m.cfg.MemoryLimitBytes == 0 {
		return defaultSaturation
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return clamp01(float64(ms.HeapAlloc) / float64(m.cfg.MemoryLimitBytes))
}

// sampleCPU runs a fixed-cost busy loop and scores scheduler-induced
// slowdown against the calibrated baseline.
func (m *Monitor) sampleCPU() float64 {
	if m.cpuBaseline <= 0 {
		return defaultSaturation
	}
	elapsed := cpuProbe()
	over := float64(elapsed-m.cpuBaseline) / (float64(m.cpuBaseline) * cpuProbeSlack)
	return clamp01(over)
}

func (m *Monitor) sampleConnections() float64 {
	if m.cfg.Connections == nil {
		return defaultSaturation
	}
	current, max := m.cfg.Connections()
	if max <= 0 {
		return defaultSaturation
	}
	return clamp01(float64(current) / float64(max))
}

// calibrateCPUProbe measures the best of several unloaded probe runs.
func calibrateCPUProbe() time.Duration {
	best := time.Duration(0)
	for i := 0; i < 5; i++ {
		d := cpuProbe()
		if best == 0 || d < best {
			best = d
		}
	}
	return best
}

func cpuProbe() time.Duration {
	start := time.Now()
	var acc int64
	for i := 0; i < cpuProbeIterations; i++ {
		acc += int64(i ^ (i << 1))
	}
	cpuProbeSink = acc
	return time.Since(start)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
