package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEndOfReplay is returned by a non-looping ReplayCamera once every
// frame has been read.
var ErrEndOfReplay = errors.New("no more frames")

// ReplayCamera plays back a fixed sequence of frames. Each read returns
// a clone, so the sequence can be replayed.
type ReplayCamera struct {
	mu     sync.Mutex
	frames []gocv.Mat
	index  int
	loop   bool
	open   bool
	fps    int
}

// NewReplayCamera takes ownership of frames.
func NewReplayCamera(frames []gocv.Mat, loop bool) *ReplayCamera {
	return &ReplayCamera{frames: frames, loop: loop, fps: ActiveFPS}
}

func (c *ReplayCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.index = 0
	return nil
}

// Close stops playback and releases the frames.
func (c *ReplayCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	for i := range c.frames {
		c.frames[i].Close()
	}
	c.frames = nil
	return nil
}

func (c *ReplayCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, ErrCameraNotOpen
	}
	if len(c.frames) == 0 {
		return nil, ErrEndOfReplay
	}
	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, ErrEndOfReplay
		}
		c.index = 0
	}

	frame := c.frames[c.index].Clone()
	c.index++
	return &frame, nil
}

func (c *ReplayCamera) SetFPS(fps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fps > 0 {
		c.fps = fps
	}
}

func (c *ReplayCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *ReplayCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
