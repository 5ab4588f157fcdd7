// Package movement classifies hand motion from consecutive landmark
// frames. Recognition only trusts classifications while the hand is
// stable.
package movement

import (
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

// State is the motion classification of the tracked hand.
type State string

const (
	Idle       State = "idle"
	Stable     State = "stable"
	Moving     State = "moving"
	MovingFast State = "moving_fast"
)

// Config holds the tracker thresholds. Velocity is in normalized image
// units per frame. Each "enter" threshold must exceed its "exit"
// threshold; the gap is the hysteresis margin.
type Config struct {
	Alpha        float64 `yaml:"smoothing_alpha"`
	MoveEnter    float64 `yaml:"move_enter"`
	MoveExit     float64 `yaml:"move_exit"`
	FastEnter    float64 `yaml:"fast_enter"`
	FastExit     float64 `yaml:"fast_exit"`
	StableFrames int     `yaml:"stable_frames"`
	HistorySize  int     `yaml:"history_size"`
}

// DefaultConfig returns the thresholds tuned for 15-30 FPS webcams.
func DefaultConfig() Config {
	return Config{
		Alpha:        0.45,
		MoveEnter:    0.012,
		MoveExit:     0.008,
		FastEnter:    0.05,
		FastExit:     0.04,
		StableFrames: 3,
		HistorySize:  30,
	}
}

// Validate fills zero values with defaults and repairs inverted
// hysteresis bands.
func (c *Config) Validate() {
	d := DefaultConfig()
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = d.Alpha
	}
	if c.MoveEnter <= 0 {
		c.MoveEnter = d.MoveEnter
	}
	if c.MoveExit <= 0 || c.MoveExit > c.MoveEnter {
		c.MoveExit = c.MoveEnter * (d.MoveExit / d.MoveEnter)
	}
	if c.FastEnter <= c.MoveEnter {
		c.FastEnter = math.Max(d.FastEnter, c.MoveEnter*2)
	}
	if c.FastExit <= c.MoveEnter || c.FastExit > c.FastEnter {
		c.FastExit = c.FastEnter * (d.FastExit / d.FastEnter)
	}
	if c.StableFrames < 1 {
		c.StableFrames = d.StableFrames
	}
	if c.HistorySize < 1 {
		c.HistorySize = d.HistorySize
	}
}

// Sample is the tracker output for one frame.
type Sample struct {
	State    State   `json:"state"`
	Velocity float64 `json:"velocity"`
}

// Tracker is a per-session movement state machine. It is not safe for
// concurrent use.
type Tracker struct {
	cfg Config

	state      State
	velocity   float64
	hasPrev    bool
	prevX      float64
	prevY      float64
	calmFrames int
	history    []float64
}

// NewTracker creates a tracker in the Idle state.
func NewTracker(cfg Config) *Tracker {
	cfg.Validate()
	return &Tracker{
		cfg:     cfg,
		state:   Idle,
		history: make([]float64, 0, cfg.HistorySize),
	}
}

// Update consumes one frame's hand detection and returns the new state.
func (t *Tracker) Update(hand detector.HandDetection) Sample {
	if !hand.Present {
		t.Reset()
		return t.Current()
	}

	lm := hand.Hand()
	x, y := lm.Centroid()

	instant := 0.0
	if t.hasPrev {
		instant = math.Hypot(x-t.prevX, y-t.prevY)
	}
	t.prevX, t.prevY, t.hasPrev = x, y, true

	return t.observe(instant)
}

// observe advances the state machine with one raw velocity measurement.
func (t *Tracker) observe(instant float64) Sample {
	t.velocity = t.cfg.Alpha*instant + (1-t.cfg.Alpha)*t.velocity
	t.record(t.velocity)

	v := t.velocity
	switch {
	case v >= t.cfg.FastEnter:
		t.state = MovingFast
		t.calmFrames = 0
	case t.state == MovingFast && v >= t.cfg.FastExit:
		t.calmFrames = 0
	case v >= t.cfg.MoveEnter:
		t.state = Moving
		t.calmFrames = 0
	case (t.state == Moving || t.state == MovingFast) && v >= t.cfg.MoveExit:
		t.state = Moving
		t.calmFrames = 0
	default:
		t.calmFrames++
		if t.state != Stable && t.calmFrames >= t.cfg.StableFrames {
			t.state = Stable
		}
	}

	return t.Current()
}

// Current returns the last computed state without advancing.
func (t *Tracker) Current() Sample {
	return Sample{State: t.state, Velocity: t.velocity}
}

// AverageVelocity returns the mean smoothed velocity over the last n
// frames, or over the whole history when n exceeds it.
func (t *Tracker) AverageVelocity(n int) float64 {
	if n <= 0 || len(t.history) == 0 {
		return 0
	}
	if n > len(t.history) {
		n = len(t.history)
	}
	sum := 0.0
	for _, v := range t.history[len(t.history)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// Reset returns the tracker to Idle and forgets the previous centroid.
func (t *Tracker) Reset() {
	t.state = Idle
	t.velocity = 0
	t.hasPrev = false
	t.calmFrames = 0
	t.history = t.history[:0]
}

func (t *Tracker) record(v float64) {
	if len(t.history) == t.cfg.HistorySize {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, v)
}
