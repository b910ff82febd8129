// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - calls/successes: Total and successful Service calls
//   - streams/aborts:  Streaming calls and how many were cancelled
//   - chunks:          Stream chunks delivered to callers
//
// Read through comms.Service.Metrics; nothing is exported remotely.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	calls     atomic.Int64
	successes atomic.Int64
	streams   atomic.Int64
	aborts    atomic.Int64
	chunks    atomic.Int64
	latencyMs atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordCall records a finished call.
func (mc *MetricsCollector) RecordCall(success bool, latency time.Duration) {
	mc.calls.Add(1)
	if success {
		mc.successes.Add(1)
	}
	mc.latencyMs.Add(latency.Milliseconds())
}

// RecordStream records a stream start.
func (mc *MetricsCollector) RecordStream() { mc.streams.Add(1) }

// RecordAbort records a cancelled stream.
func (mc *MetricsCollector) RecordAbort() { mc.aborts.Add(1) }

// RecordChunk records a delivered stream chunk.
func (mc *MetricsCollector) RecordChunk() { mc.chunks.Add(1) }

// Stats returns current metrics.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"calls":            mc.calls.Load(),
		"successes":        mc.successes.Load(),
		"streams":          mc.streams.Load(),
		"aborts":           mc.aborts.Load(),
		"chunks":           mc.chunks.Load(),
		"total_latency_ms": mc.latencyMs.Load(),
	}
}
