// Logic sniffer metrics
//
// The fixed set of metrics exported by the capture client: trigger
// compilation, device captures and Go runtime state.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"

	"logicsniffer/pkg/errors"
)

// Capture states as exported by the capture state gauge
const (
	CaptureIdle = iota
	CaptureCompiling
	CaptureArmed
	CaptureReading
	CaptureDone
	CaptureFailed
)

// SnifferMetrics holds every metric of the client
type SnifferMetrics struct {
	registry  *Registry
	startTime time.Time

	// Trigger compilation
	CompilePasses   *Counter
	CompileProblems *Counter
	CompileFailures *Counter
	StagesInUse     *Gauge

	// Captures
	Captures        *Counter
	BytesRead       *Counter
	CaptureState    *Gauge
	CaptureDuration *Histogram

	// Runtime
	Uptime       *Gauge
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	GoGCCycles   *Gauge
}

// NewSnifferMetrics creates the metrics with their own registry
func NewSnifferMetrics() *SnifferMetrics {
	sm := &SnifferMetrics{
		registry:  NewRegistry(),
		startTime: time.Now(),
	}

	sm.CompilePasses = NewCounter("sniffer_trigger_compile_passes_total",
		"Total trigger compile passes")
	sm.CompileProblems = NewCounter("sniffer_trigger_compile_problems_total",
		"Compile problems by kind")
	sm.CompileFailures = NewCounter("sniffer_trigger_compile_failures_total",
		"Compile passes that did not produce usable stages")
	sm.StagesInUse = NewGauge("sniffer_trigger_stages_in_use",
		"Trigger stages allocated by the last compile pass")

	sm.Captures = NewCounter("sniffer_captures_total",
		"Total captures by result")
	sm.BytesRead = NewCounter("sniffer_capture_bytes_read_total",
		"Total sample bytes read from the device")
	sm.CaptureState = NewGauge("sniffer_capture_state",
		"Capture state (0=idle, 1=compiling, 2=armed, 3=reading, 4=done, 5=failed)")
	sm.CaptureDuration = NewHistogram("sniffer_capture_duration_seconds",
		"Time from arming the device to the last sample byte", DefaultBuckets())

	sm.Uptime = NewGauge("sniffer_uptime_seconds",
		"Seconds since the client started")
	sm.GoGoroutines = NewGauge("sniffer_go_goroutines",
		"Number of active goroutines")
	sm.GoMemoryHeap = NewGauge("sniffer_go_memory_heap_bytes",
		"Go heap memory in use")
	sm.GoGCCycles = NewGauge("sniffer_go_gc_cycles",
		"Completed Go garbage collection cycles")

	for _, m := range []Metric{
		sm.CompilePasses, sm.CompileProblems, sm.CompileFailures, sm.StagesInUse,
		sm.Captures, sm.BytesRead, sm.CaptureState, sm.CaptureDuration,
		sm.Uptime, sm.GoGoroutines, sm.GoMemoryHeap, sm.GoGCCycles,
	} {
		sm.registry.MustRegister(m)
	}
	return sm
}

// RecordCompile records the outcome of one compile pass. problems are the
// diagnostics of the pass; a parse error is passed as a single problem with
// used set to 0.
func (sm *SnifferMetrics) RecordCompile(success bool, used int, problems []*errors.HostError) {
	sm.CompilePasses.Inc(nil)
	for _, p := range problems {
		sm.CompileProblems.Inc(Labels{"kind": string(p.Code)})
	}
	if !success {
		sm.CompileFailures.Inc(nil)
	}
	sm.StagesInUse.Set(nil, float64(used))
}

// SetCaptureState updates the capture state gauge
func (sm *SnifferMetrics) SetCaptureState(state int) {
	sm.CaptureState.Set(nil, float64(state))
}

// AddBytesRead counts sample bytes received from the device
func (sm *SnifferMetrics) AddBytesRead(n int) {
	if n > 0 {
		sm.BytesRead.Add(nil, uint64(n))
	}
}

// RecordCapture records a finished capture. result is "ok", "cancelled" or
// "error".
func (sm *SnifferMetrics) RecordCapture(result string, d time.Duration) {
	sm.Captures.Inc(Labels{"result": result})
	sm.CaptureDuration.Observe(nil, d.Seconds())
}

// UpdateSystemMetrics refreshes the Go runtime metrics
func (sm *SnifferMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	sm.Uptime.Set(nil, time.Since(sm.startTime).Seconds())
	sm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	sm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	sm.GoGCCycles.Set(nil, float64(m.NumGC))
}

// Gather returns all metrics in Prometheus text format
func (sm *SnifferMetrics) Gather() string {
	sm.UpdateSystemMetrics()
	return sm.registry.Gather()
}

// Registry returns the internal registry
func (sm *SnifferMetrics) Registry() *Registry {
	return sm.registry
}

var globalMetrics *SnifferMetrics
var globalMetricsOnce sync.Once

// GlobalMetrics returns the process wide metrics instance
func GlobalMetrics() *SnifferMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewSnifferMetrics()
	})
	return globalMetrics
}
