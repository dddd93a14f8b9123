package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorRunningMean(t *testing.T) {
	m := NewMonitor()
	m.UpdatePerformanceMetrics(10, false)
	m.UpdatePerformanceMetrics(20, true)
	m.UpdatePerformanceMetrics(30, false)

	snap := m.SystemHealth(PipelineStatus{Available: true}, nil, RateLimiterStatus{Available: true})
	perf := snap.PerformanceMetrics

	assert.Equal(t, int64(3), perf.TotalRequests)
	assert.Equal(t, int64(1), perf.BlockedRequests)
	assert.InDelta(t, 20.0, perf.AvgResponseTimeMS, 1e-9)
	assert.InDelta(t, 30.0, perf.PeakResponseTimeMS, 1e-9)
	assert.WithinDuration(t, time.Now(), perf.LastRequestTime, time.Second)
}

func TestMonitorOverallStatus(t *testing.T) {
	t.Run("healthy with no errors", func(t *testing.T) {
		m := NewMonitor()
		snap := m.SystemHealth(PipelineStatus{Available: true}, nil, RateLimiterStatus{Available: true})
		assert.Equal(t, StatusHealthy, snap.OverallStatus)
	})

	t.Run("unhealthy when pipeline is down", func(t *testing.T) {
		m := NewMonitor()
		snap := m.SystemHealth(PipelineStatus{Available: false}, nil, RateLimiterStatus{Available: true})
		assert.Equal(t, StatusUnhealthy, snap.OverallStatus)
	})

	t.Run("degraded on recent errors", func(t *testing.T) {
		m := NewMonitor()
		m.RecordError("something failed")
		snap := m.SystemHealth(PipelineStatus{Available: true}, nil, RateLimiterStatus{Available: true})
		assert.Equal(t, StatusDegraded, snap.OverallStatus)
		assert.Len(t, snap.RecentErrors, 1)
	})

	t.Run("degraded on limiter error", func(t *testing.T) {
		m := NewMonitor()
		snap := m.SystemHealth(PipelineStatus{Available: true}, nil, RateLimiterStatus{Error: "redis down"})
		assert.Equal(t, StatusDegraded, snap.OverallStatus)
	})
}

func TestMonitorErrorCap(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 25; i++ {
		m.RecordError("boom")
	}
	snap := m.SystemHealth(PipelineStatus{Available: true}, nil, RateLimiterStatus{Available: true})
	assert.Len(t, snap.RecentErrors, 10)
}
