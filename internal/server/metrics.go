package server

import (
	"math"
	"sync"
	"time"
)

// Metrics counts served requests. It is safe for concurrent use.
type Metrics struct {
	mu           sync.Mutex
	start        time.Time
	requests     int64
	errors       int64
	bytesSent    int64
	statusCounts map[int]int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	TotalRequests int64         `json:"total_requests"`
	TotalErrors   int64         `json:"total_errors"`
	BytesSent     int64         `json:"bytes_sent"`
	StatusCounts  map[int]int64 `json:"status_counts"`
}

// NewMetrics creates a Metrics whose uptime starts now.
func NewMetrics() *Metrics {
	return &Metrics{
		start:        time.Now(),
		statusCounts: make(map[int]int64),
	}
}

// Record accounts for one response. failed marks handler faults.
func (m *Metrics) Record(status int, bytes int64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.bytesSent += bytes
	m.statusCounts[status]++
	if failed {
		m.errors++
	}
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[int]int64, len(m.statusCounts))
	for k, v := range m.statusCounts {
		counts[k] = v
	}
	return MetricsSnapshot{
		UptimeSeconds: math.Round(time.Since(m.start).Seconds()*10) / 10,
		TotalRequests: m.requests,
		TotalErrors:   m.errors,
		BytesSent:     m.bytesSent,
		StatusCounts:  counts,
	}
}
