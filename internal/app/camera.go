package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/observability"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/timeutil"
)

// IdleTimeout is how long the local feed stays active after the last
// motion before dropping back to the idle frame rate.
const IdleTimeout = 2 * time.Second

// DefaultMotionThreshold is the percentage of changed pixels that counts
// as motion.
const DefaultMotionThreshold = 1.0

// CameraFeed captures from a local camera into a dedicated session.
// While the scene is static it polls at capture.IdleFPS and submits
// nothing; motion switches it to capture.ActiveFPS.
type CameraFeed struct {
	app    *App
	camera capture.Camera
	motion *capture.MotionDetector
	clock  timeutil.Clock
	log    zerolog.Logger
	seq    capture.Sequencer

	mu        sync.Mutex
	enabled   bool
	sessionID string
	stop      chan struct{}
	done      chan struct{}
}

// NewCameraFeed creates a feed for camera. It does not open the camera.
func NewCameraFeed(a *App, camera capture.Camera, motionThreshold float64) *CameraFeed {
	if motionThreshold <= 0 {
		motionThreshold = DefaultMotionThreshold
	}
	return &CameraFeed{
		app:     a,
		camera:  camera,
		motion:  capture.NewMotionDetector(motionThreshold),
		clock:   a.cfg.Clock,
		log:     observability.WithComponent("camera"),
		enabled: true,
	}
}

// Start opens the camera, creates the camera session and begins
// capturing. Starting a running feed returns its current session.
func (c *CameraFeed) Start(opts SessionOptions) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return c.app.Info(c.sessionID)
	}

	if err := c.camera.Open(); err != nil {
		return SessionInfo{}, err
	}
	c.camera.SetFPS(capture.IdleFPS)

	opts.Source = store.SourceCamera
	info, err := c.app.CreateSession(opts)
	if err != nil {
		c.camera.Close()
		return SessionInfo{}, err
	}

	c.sessionID = info.ID
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.motion.Reset()
	go c.run(info.ID, c.stop, c.done)

	c.log.Info().Str("session_id", info.ID).Msg("camera feed started")
	return info, nil
}

// Stop halts capture, closes the camera session and releases the camera.
func (c *CameraFeed) Stop() error {
	c.mu.Lock()
	stop, done, id := c.stop, c.done, c.sessionID
	c.stop, c.done, c.sessionID = nil, nil, ""
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done

	var errs []error
	if err := c.app.CloseSession(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		errs = append(errs, err)
	}
	if err := c.camera.Close(); err != nil {
		errs = append(errs, err)
	}
	c.log.Info().Str("session_id", id).Msg("camera feed stopped")
	return errors.Join(errs...)
}

// Close stops the feed and releases the motion detector.
func (c *CameraFeed) Close() error {
	err := c.Stop()
	c.motion.Close()
	return err
}

// SetEnabled pauses or resumes recognition on the local feed. A paused
// feed keeps its session so captions survive the pause.
func (c *CameraFeed) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether the feed submits frames.
func (c *CameraFeed) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SessionID returns the camera session, or "" when stopped.
func (c *CameraFeed) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *CameraFeed) run(sessionID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	active := false
	lastMotion := c.clock.Now()
	ticker := c.clock.NewTicker(time.Second / time.Duration(capture.IdleFPS))
	defer func() { ticker.Stop() }()

	setRate := func(fps int) {
		c.camera.SetFPS(fps)
		ticker.Stop()
		ticker = c.clock.NewTicker(time.Second / time.Duration(fps))
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		if !c.Enabled() {
			continue
		}

		mat, err := c.camera.ReadFrame()
		if err != nil {
			c.log.Debug().Err(err).Msg("read frame")
			continue
		}

		now := c.clock.Now()
		if moving, _ := c.motion.Detect(mat); moving {
			lastMotion = now
			if !active {
				active = true
				setRate(capture.ActiveFPS)
				c.log.Debug().Msg("switched to active mode")
			}
		} else if active && now.Sub(lastMotion) > IdleTimeout {
			active = false
			setRate(capture.IdleFPS)
			c.log.Debug().Msg("switched to idle mode")
		}

		if !active {
			mat.Close()
			continue
		}

		f := capture.NewFrame(c.seq.Next(), now, *mat)
		if _, err := c.app.Submit(sessionID, f); err != nil {
			return
		}
	}
}
