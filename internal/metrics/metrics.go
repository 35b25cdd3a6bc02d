// Package metrics is an in-process collector for reconciliation counters and
// timings, exposed over the metrics endpoint.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names used across the service.
const (
	EventsReceived    = "webhook_events_received"
	EventsApplied     = "webhook_events_applied"
	EventsDuplicate   = "webhook_events_duplicate"
	EventsConflict    = "webhook_events_conflict"
	EventsIgnored     = "webhook_events_ignored"
	SignatureFailures = "webhook_signature_failures"
	GatewayErrors     = "gateway_call_errors"
	CheckoutsStarted  = "checkouts_started"
	CheckoutsResolved = "checkouts_resolved"
	ReconcilerCatchup = "reconciler_catchup_applied"
)

// TimerSnapshot summarizes recorded durations for one timer.
type TimerSnapshot struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	maxTimeMs   int64
}

// Metrics is the collector. Safe for concurrent use.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]*int64
	timers   map[string]*timer
	health   map[string]*int64
	started  time.Time
}

// New creates a metrics collector
func New() *Metrics {
	return &Metrics{
		counters: make(map[string]*int64),
		timers:   make(map[string]*timer),
		health:   make(map[string]*int64),
		started:  time.Now(),
	}
}

func (m *Metrics) counter(name string) *int64 {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[name]; !ok {
		c = new(int64)
		m.counters[name] = c
	}
	return c
}

// Inc increments a counter by 1
func (m *Metrics) Inc(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

// RecordTimer records one duration for the named timer
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.RLock()
	t, ok := m.timers[name]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if t, ok = m.timers[name]; !ok {
			t = &timer{}
			m.timers[name] = t
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, ms)
	for {
		max := atomic.LoadInt64(&t.maxTimeMs)
		if ms <= max || atomic.CompareAndSwapInt64(&t.maxTimeMs, max, ms) {
			break
		}
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, healthy bool) {
	var v int64
	if healthy {
		v = 1
	}

	m.mu.RLock()
	h, ok := m.health[component]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.health[component]; !ok {
			h = new(int64)
			m.health[component] = h
		}
		m.mu.Unlock()
	}
	atomic.StoreInt64(h, v)
}

// Counters returns a snapshot of all counters
func (m *Metrics) Counters() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		out[name] = atomic.LoadInt64(c)
	}
	return out
}

// Timers returns a snapshot of all timers
func (m *Metrics) Timers() map[string]TimerSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]TimerSnapshot, len(m.timers))
	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		total := atomic.LoadInt64(&t.totalTimeMs)
		var avg float64
		if count > 0 {
			avg = float64(total) / float64(count)
		}
		out[name] = TimerSnapshot{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: avg,
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}
	return out
}

// HealthChecks returns all component health states
func (m *Metrics) HealthChecks() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool, len(m.health))
	for name, h := range m.health {
		out[name] = atomic.LoadInt64(h) > 0
	}
	return out
}

// Snapshot returns all metrics in a structured format
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.started).Seconds()),
		"counters":       m.Counters(),
		"timers":         m.Timers(),
		"health_checks":  m.HealthChecks(),
	}
}
