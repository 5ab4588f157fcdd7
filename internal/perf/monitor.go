// Package perf measures pipeline throughput and decides when to shed
// enhancement stages under load.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/prometheus/procfs"
	"gonum.org/v1/gonum/stat"
)

// Health summarises a sample.
type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
	// Idle is reported for intervals in which no frame was processed.
	Idle Health = "idle"
)

// Health thresholds.
const (
	UnhealthyFPS  = 10.0
	DegradedFPS   = 15.0
	DegradedP95MS = 100.0
)

// DefaultHistory is the number of samples retained.
const DefaultHistory = 10

// FrameTiming is the cost of one processed frame.
type FrameTiming struct {
	Stages   map[string]time.Duration
	Total    time.Duration
	Timeouts []string
}

// StageStats aggregates one stage over a sampling interval.
type StageStats struct {
	Count    int     `json:"count"`
	MeanMS   float64 `json:"mean_ms"`
	P95MS    float64 `json:"p95_ms"`
	Timeouts int     `json:"timeouts"`
}

// Sample is one measurement window.
type Sample struct {
	Time       time.Time             `json:"time"`
	FPS        float64               `json:"fps"`
	Frame      StageStats            `json:"frame"`
	Stages     map[string]StageStats `json:"stages"`
	CPUPercent float64               `json:"cpu_percent"`
	MemoryMB   float64               `json:"memory_mb"`
	Processed  int                   `json:"frames_processed"`
	Skipped    int                   `json:"frames_skipped"`
	Health     Health                `json:"health"`
}

// Usage reports cumulative process CPU seconds and resident bytes.
type Usage interface {
	Usage() (cpuSeconds float64, rssBytes uint64, err error)
}

// ProcUsage reads process usage from /proc.
type ProcUsage struct{}

// Usage implements Usage. It fails where procfs is unsupported.
func (ProcUsage) Usage() (float64, uint64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, 0, err
	}
	st, err := p.Stat()
	if err != nil {
		return 0, 0, err
	}
	return st.CPUTime(), uint64(st.ResidentMemory()), nil
}

// Monitor accumulates frame timings and turns them into samples. It is
// safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	sessionID string
	clock     timeutil.Clock
	usage     Usage
	size      int

	windowStart time.Time
	processed   int
	skipped     int
	frame       []float64
	stages      map[string][]float64
	timeouts    map[string]int

	lastCPU   float64
	lastCPUAt time.Time
	history   []Sample
}

// NewMonitor creates a monitor for sessionID. usage may be nil to skip
// process measurements.
func NewMonitor(sessionID string, clock timeutil.Clock, usage Usage) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := &Monitor{
		sessionID: sessionID,
		clock:     clock,
		usage:     usage,
		size:      DefaultHistory,
	}
	m.resetWindow(clock.Now())
	if usage != nil {
		if cpu, _, err := usage.Usage(); err == nil {
			m.lastCPU, m.lastCPUAt = cpu, m.windowStart
		}
	}
	return m
}

// Observe records one processed frame.
func (m *Monitor) Observe(t FrameTiming) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processed++
	m.frame = append(m.frame, ms(t.Total))
	for stage, d := range t.Stages {
		m.stages[stage] = append(m.stages[stage], ms(d))
		observability.RecordStageLatency(stage, d)
	}
	for _, stage := range t.Timeouts {
		m.timeouts[stage]++
	}
	observability.RecordFrame()
}

// Skip records n frames dropped before processing.
func (m *Monitor) Skip(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.skipped += n
	m.mu.Unlock()
	observability.RecordDropped(n)
}

// Sample closes the current window at now and appends it to the history.
func (m *Monitor) Sample(now time.Time) Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.windowStart).Seconds()
	s := Sample{
		Time:      now,
		Frame:     summarize(m.frame, 0),
		Stages:    make(map[string]StageStats, len(m.stages)),
		Processed: m.processed,
		Skipped:   m.skipped,
	}
	if elapsed > 0 {
		s.FPS = float64(m.processed) / elapsed
	}
	for stage, xs := range m.stages {
		s.Stages[stage] = summarize(xs, m.timeouts[stage])
	}
	for stage, n := range m.timeouts {
		if _, ok := s.Stages[stage]; !ok {
			s.Stages[stage] = StageStats{Timeouts: n}
		}
	}
	s.CPUPercent, s.MemoryMB = m.processUsage(now)
	s.Health = healthOf(s)

	m.history = append(m.history, s)
	if len(m.history) > m.size {
		m.history = m.history[len(m.history)-m.size:]
	}
	m.resetWindow(now)

	observability.SetSessionFPS(m.sessionID, s.FPS)
	if m.usage != nil {
		observability.SetProcessUsage(s.CPUPercent, s.MemoryMB)
	}
	return s
}

// Latest returns the most recent sample, or an idle zero sample before
// the first interval closes.
func (m *Monitor) Latest() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{Time: m.windowStart, Stages: map[string]StageStats{}, Health: Idle}
	}
	return m.history[len(m.history)-1]
}

// History returns the retained samples, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.history...)
}

// ClearHistory drops retained samples. The current window is kept.
func (m *Monitor) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
}

func (m *Monitor) resetWindow(now time.Time) {
	m.windowStart = now
	m.processed = 0
	m.skipped = 0
	m.frame = m.frame[:0]
	m.stages = make(map[string][]float64)
	m.timeouts = make(map[string]int)
}

// processUsage returns CPU percent since the previous sample and RSS in
// megabytes. Both are zero when usage is unavailable.
func (m *Monitor) processUsage(now time.Time) (float64, float64) {
	if m.usage == nil {
		return 0, 0
	}
	cpu, rss, err := m.usage.Usage()
	if err != nil {
		return 0, 0
	}
	var percent float64
	if wall := now.Sub(m.lastCPUAt).Seconds(); !m.lastCPUAt.IsZero() && wall > 0 {
		percent = (cpu - m.lastCPU) / wall * 100
	}
	m.lastCPU, m.lastCPUAt = cpu, now
	return percent, float64(rss) / (1 << 20)
}

func summarize(xs []float64, timeouts int) StageStats {
	st := StageStats{Count: len(xs), Timeouts: timeouts}
	if len(xs) == 0 {
		return st
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	st.MeanMS = stat.Mean(sorted, nil)
	st.P95MS = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return st
}

func healthOf(s Sample) Health {
	switch {
	case s.Processed == 0:
		return Idle
	case s.FPS < UnhealthyFPS:
		return Unhealthy
	case s.FPS < DegradedFPS || s.Frame.P95MS > DegradedP95MS:
		return Degraded
	}
	return Healthy
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
