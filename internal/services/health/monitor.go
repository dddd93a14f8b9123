// Package health aggregates the counters and latencies observed by the
// pipeline into a single snapshot for the health endpoint and CLI.
package health

import (
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// PipelineStatus is reported by the pipeline into the snapshot.
type PipelineStatus struct {
	Available    bool   `json:"available"`
	Total        int    `json:"total"`
	TotalEnabled int    `json:"total_enabled"`
	Error        string `json:"error,omitempty"`
}

// RateLimiterStatus is reported by the global limiter.
type RateLimiterStatus struct {
	Available        bool   `json:"available"`
	TotalTrackedKeys int    `json:"total_tracked_keys"`
	Error            string `json:"error,omitempty"`
}

type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type PerformanceMetrics struct {
	TotalRequests      int64     `json:"total_requests"`
	BlockedRequests    int64     `json:"blocked_requests"`
	AvgResponseTimeMS  float64   `json:"avg_response_time_ms"`
	PeakResponseTimeMS float64   `json:"peak_response_time_ms"`
	LastRequestTime    time.Time `json:"last_request_time"`
}

// Snapshot is the full system health view.
type Snapshot struct {
	OverallStatus      Status             `json:"overall_status"`
	PipelineStatus     PipelineStatus     `json:"pipeline_status"`
	APIKeysStatus      map[string]bool    `json:"api_keys_status"`
	RateLimiterStatus  RateLimiterStatus  `json:"rate_limiter_status"`
	RecentErrors       []ErrorEntry       `json:"recent_errors"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
}

const recentErrorCap = 10

// Monitor accumulates performance data. The average is the exact running
// mean over all requests, not an EMA.
type Monitor struct {
	mu sync.Mutex

	totalRequests   int64
	blockedRequests int64
	totalTimeMS     float64
	peakTimeMS      float64
	lastRequest     time.Time

	recentErrors []ErrorEntry
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// UpdatePerformanceMetrics folds one pipeline call into the counters.
func (m *Monitor) UpdatePerformanceMetrics(responseTimeMS float64, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	if blocked {
		m.blockedRequests++
	}
	m.totalTimeMS += responseTimeMS
	if responseTimeMS > m.peakTimeMS {
		m.peakTimeMS = responseTimeMS
	}
	m.lastRequest = time.Now()
}

// RecordError keeps the last few errors for the snapshot.
func (m *Monitor) RecordError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentErrors = append(m.recentErrors, ErrorEntry{Timestamp: time.Now(), Message: message})
	if len(m.recentErrors) > recentErrorCap {
		m.recentErrors = m.recentErrors[len(m.recentErrors)-recentErrorCap:]
	}
}

// SystemHealth combines the monitor state with the live component reports.
func (m *Monitor) SystemHealth(pipeline PipelineStatus, apiKeys map[string]bool, limiter RateLimiterStatus) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	perf := PerformanceMetrics{
		TotalRequests:      m.totalRequests,
		BlockedRequests:    m.blockedRequests,
		PeakResponseTimeMS: m.peakTimeMS,
		LastRequestTime:    m.lastRequest,
	}
	if m.totalRequests > 0 {
		perf.AvgResponseTimeMS = m.totalTimeMS / float64(m.totalRequests)
	}

	errs := make([]ErrorEntry, len(m.recentErrors))
	copy(errs, m.recentErrors)

	if apiKeys == nil {
		apiKeys = map[string]bool{}
	}

	overall := StatusHealthy
	switch {
	case !pipeline.Available:
		overall = StatusUnhealthy
	case pipeline.Error != "" || limiter.Error != "" || recentErrorsWithin(errs, 5*time.Minute):
		overall = StatusDegraded
	}

	return Snapshot{
		OverallStatus:      overall,
		PipelineStatus:     pipeline,
		APIKeysStatus:      apiKeys,
		RateLimiterStatus:  limiter,
		RecentErrors:       errs,
		PerformanceMetrics: perf,
	}
}

func recentErrorsWithin(errs []ErrorEntry, window time.Duration) bool {
	cutoff := time.Now().Add(-window)
	for _, e := range errs {
		if e.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}
