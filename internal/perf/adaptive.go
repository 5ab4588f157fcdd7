package perf

import (
	"fmt"
	"sync"
	"time"
)

// ControllerConfig holds the degradation thresholds.
type ControllerConfig struct {
	CPUThreshold float64 `yaml:"cpu_threshold"`
	FPSThreshold float64 `yaml:"fps_threshold"`
	// DegradeAfter consecutive degraded samples shed one stage.
	DegradeAfter int `yaml:"degrade_after"`
	// RestoreAfter consecutive healthy samples bring one stage back.
	RestoreAfter int `yaml:"restore_after"`
}

// DefaultControllerConfig returns CPU 80%, FPS 15, 3 to degrade, 5 to
// restore.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{CPUThreshold: 80, FPSThreshold: 15, DegradeAfter: 3, RestoreAfter: 5}
}

// Validate checks the thresholds.
func (c ControllerConfig) Validate() error {
	if c.CPUThreshold <= 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("cpu threshold must be in (0,100], got %v", c.CPUThreshold)
	}
	if c.FPSThreshold <= 0 {
		return fmt.Errorf("fps threshold must be positive, got %v", c.FPSThreshold)
	}
	if c.DegradeAfter <= 0 || c.RestoreAfter <= 0 {
		return fmt.Errorf("degrade and restore counts must be positive")
	}
	return nil
}

// Decision is the outcome of one evaluation.
type Decision struct {
	// Disable names a stage shed this evaluation.
	Disable string `json:"disable,omitempty"`
	// Restore names a stage brought back this evaluation.
	Restore string `json:"restore,omitempty"`
	// ClearHistory asks the caller to drop monitor history so old slow
	// samples do not count again.
	ClearHistory bool `json:"clear_history,omitempty"`
}

// Controller sheds enhancement stages in a fixed order while samples are
// degraded and restores them in reverse once throughput recovers. It only
// tracks which stages it disabled; the user's own toggles are never
// changed.
type Controller struct {
	mu    sync.Mutex
	cfg   ControllerConfig
	order []string

	disabled []string // stack, most recent last
	lastSeen time.Time
	degraded int
	healthy  int
}

// NewController creates a controller that sheds stages in order.
func NewController(cfg ControllerConfig, order []string) *Controller {
	return &Controller{cfg: cfg, order: append([]string(nil), order...)}
}

// IsDegraded reports whether s breaches the CPU or FPS threshold. A
// sample with no frames is not degraded on FPS.
func (c *Controller) IsDegraded(s Sample) bool {
	return s.CPUPercent > c.cfg.CPUThreshold || (s.FPS > 0 && s.FPS < c.cfg.FPSThreshold)
}

func (c *Controller) isHealthy(s Sample) bool {
	return s.Processed > 0 && !c.IsDegraded(s)
}

// Evaluate consumes samples not seen before. enabled reports the user's
// own toggle for each stage.
func (c *Controller) Evaluate(samples []Sample, enabled func(stage string) bool) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range samples {
		if !s.Time.After(c.lastSeen) {
			continue
		}
		c.lastSeen = s.Time

		switch {
		case c.IsDegraded(s):
			c.degraded++
			c.healthy = 0
		case c.isHealthy(s):
			c.healthy++
			c.degraded = 0
		}

		if c.degraded >= c.cfg.DegradeAfter {
			c.degraded = 0
			if stage := c.nextToDisable(enabled); stage != "" {
				c.disabled = append(c.disabled, stage)
				c.healthy = 0
				return Decision{Disable: stage}
			}
		}
		if c.healthy >= c.cfg.RestoreAfter && len(c.disabled) > 0 {
			stage := c.disabled[len(c.disabled)-1]
			c.disabled = c.disabled[:len(c.disabled)-1]
			c.healthy = 0
			c.degraded = 0
			return Decision{Restore: stage, ClearHistory: true}
		}
	}
	return Decision{}
}

func (c *Controller) nextToDisable(enabled func(string) bool) string {
	for _, stage := range c.order {
		if c.isDisabled(stage) {
			continue
		}
		if enabled == nil || enabled(stage) {
			return stage
		}
	}
	return ""
}

func (c *Controller) isDisabled(stage string) bool {
	for _, s := range c.disabled {
		if s == stage {
			return true
		}
	}
	return false
}

// IsDisabled reports whether the controller has shed stage.
func (c *Controller) IsDisabled(stage string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDisabled(stage)
}

// Disabled returns the shed stages in the order they were disabled.
func (c *Controller) Disabled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.disabled...)
}

// Reset restores every stage and forgets the streaks.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = nil
	c.degraded = 0
	c.healthy = 0
	c.lastSeen = time.Time{}
}
