package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestMonitor_SnapshotDimensionsInRange verifies every dimension is a
// saturation ratio in [0,1].
func TestMonitor_SnapshotDimensionsInRange(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		MemoryLimitBytes: 1 << 30,
		SampleInterval:   time.Millisecond,
	}, zap.NewNop().Sugar())

	snap := m.Snapshot()
	assert.GreaterOrEqual(t, snap.MemoryUsage, 0.0)
	assert.LessOrEqual(t, snap.MemoryUsage, 1.0)
	assert.GreaterOrEqual(t, snap.CPUUsage, 0.0)
	assert.LessOrEqual(t, snap.CPUUsage, 1.0)
	assert.GreaterOrEqual(t, snap.ConnectionSaturation, 0.0)
	assert.LessOrEqual(t, snap.ConnectionSaturation, 1.0)
	assert.False(t, snap.SampledAt.IsZero())
}

// TestMonitor_ConnectionSaturation verifies the injected connection
// counter drives the connection dimension.
func TestMonitor_ConnectionSaturation(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		MemoryLimitBytes: 1 << 30,
		SampleInterval:   time.Nanosecond,
		Connections:      func() (int, int) { return 75, 100 },
	}, zap.NewNop().Sugar())

	snap := m.Snapshot()
	assert.InDelta(t, 0.75, snap.ConnectionSaturation, 1e-9)
}

// TestMonitor_UnmeasurableDimensionsDefaultConservative verifies missing
// counters fall back to the 0.5 middle ground instead of 0.
func TestMonitor_UnmeasurableDimensionsDefaultConservative(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		SampleInterval: time.Nanosecond,
	}, zap.NewNop().Sugar())

	snap := m.Snapshot()
	assert.InDelta(t, defaultSaturation, snap.MemoryUsage, 1e-9, "no memory limit configured")
	assert.InDelta(t, defaultSaturation, snap.ConnectionSaturation, 1e-9, "no connection counter configured")

	m2 := NewMonitor(MonitorConfig{
		MemoryLimitBytes: 1 << 30,
		SampleInterval:   time.Nanosecond,
		Connections:      func() (int, int) { return 10, 0 },
	}, zap.NewNop().Sugar())
	assert.InDelta(t, defaultSaturation, m2.Snapshot().ConnectionSaturation, 1e-9, "zero max connections")
}

// TestMonitor_ServesCachedSnapshotBetweenSamples verifies callers faster
// than the sample interval get the cached snapshot.
func TestMonitor_ServesCachedSnapshotBetweenSamples(t *testing.T) {
	m := NewMonitor(MonitorConfig{
		MemoryLimitBytes: 1 << 30,
		SampleInterval:   time.Hour,
	}, zap.NewNop().Sugar())

	first := m.Snapshot()
	second := m.Snapshot()
	require.Equal(t, first.SampledAt, second.SampledAt, "second call within the interval serves the cache")
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.3))
	assert.Equal(t, 1.0, clamp01(4.2))
	assert.Equal(t, 0.42, clamp01(0.42))
}
