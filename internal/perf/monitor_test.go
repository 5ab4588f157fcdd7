package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsage struct {
	cpu float64
	rss uint64
	err error
}

func (f *fakeUsage) Usage() (float64, uint64, error) { return f.cpu, f.rss, f.err }

func timing(total time.Duration, stages map[string]time.Duration, timeouts ...string) FrameTiming {
	return FrameTiming{Stages: stages, Total: total, Timeouts: timeouts}
}

func TestMonitor_Sample(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	usage := &fakeUsage{cpu: 10, rss: 256 << 20}
	m := NewMonitor("test", clock, usage)

	for i := 1; i <= 20; i++ {
		m.Observe(timing(time.Duration(i)*time.Millisecond, map[string]time.Duration{
			"detect": time.Duration(i) * time.Millisecond,
		}))
	}
	m.Observe(timing(5*time.Millisecond, nil, "background"))
	m.Skip(4)

	clock.Advance(time.Second)
	usage.cpu = 10.5
	s := m.Sample(clock.Now())

	assert.Equal(t, 21, s.Processed)
	assert.Equal(t, 4, s.Skipped)
	assert.InDelta(t, 21.0, s.FPS, 1e-9)
	assert.InDelta(t, 50.0, s.CPUPercent, 1e-9)
	assert.InDelta(t, 256.0, s.MemoryMB, 1e-9)

	detect := s.Stages["detect"]
	assert.Equal(t, 20, detect.Count)
	assert.InDelta(t, 10.5, detect.MeanMS, 1e-9)
	assert.InDelta(t, 19.5, detect.P95MS, 0.5)
	assert.Equal(t, 1, s.Stages["background"].Timeouts)
	assert.Equal(t, Healthy, s.Health)

	// The next window starts empty.
	clock.Advance(time.Second)
	next := m.Sample(clock.Now())
	assert.Equal(t, 0, next.Processed)
	assert.Equal(t, Idle, next.Health)
}

func TestMonitor_HistoryBounded(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := NewMonitor("test", clock, nil)

	for i := 0; i < 15; i++ {
		clock.Advance(time.Second)
		m.Sample(clock.Now())
	}

	h := m.History()
	require.Len(t, h, DefaultHistory)
	assert.Equal(t, time.Unix(6, 0), h[0].Time)
	assert.Equal(t, time.Unix(15, 0), m.Latest().Time)

	m.ClearHistory()
	assert.Empty(t, m.History())
	assert.Equal(t, Idle, m.Latest().Health)
}

func TestMonitor_UsageUnavailable(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := NewMonitor("test", clock, &fakeUsage{err: errors.New("no procfs")})

	m.Observe(timing(time.Millisecond, nil))
	clock.Advance(time.Second)
	s := m.Sample(clock.Now())

	assert.Zero(t, s.CPUPercent)
	assert.Zero(t, s.MemoryMB)
}

func TestHealthOf(t *testing.T) {
	tests := []struct {
		name string
		s    Sample
		want Health
	}{
		{"no frames", Sample{}, Idle},
		{"fast", Sample{Processed: 30, FPS: 30, Frame: StageStats{P95MS: 40}}, Healthy},
		{"slow frames", Sample{Processed: 30, FPS: 30, Frame: StageStats{P95MS: 120}}, Degraded},
		{"low fps", Sample{Processed: 12, FPS: 12}, Degraded},
		{"very low fps", Sample{Processed: 5, FPS: 5}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthOf(tt.s))
		})
	}
}

func TestProcUsage(t *testing.T) {
	cpu, rss, err := ProcUsage{}.Usage()
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, cpu, 0.0)
	assert.Greater(t, rss, uint64(0))
}
