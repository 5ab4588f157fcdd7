package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// motionWidth is the width frames are reduced to before comparison.
	motionWidth = 160
	motionBlur  = 7
	// pixelDelta is the grey-level change that counts a pixel as moved.
	pixelDelta = 25
)

// MotionDetector gates the local camera feed: while the scene is static
// the feed stays at IdleFPS and frames are not worth recognizing.
// Frames are compared as small blurred grayscale images; the scratch
// Mats are reused across calls.
type MotionDetector struct {
	mu        sync.Mutex
	threshold float64

	gray, small, base, diff gocv.Mat
	hasBase                 bool
}

// NewMotionDetector creates a MotionDetector that reports motion when
// more than threshold percent of pixels change.
func NewMotionDetector(threshold float64) *MotionDetector {
	return &MotionDetector{
		threshold: threshold,
		gray:      gocv.NewMat(),
		small:     gocv.NewMat(),
		base:      gocv.NewMat(),
		diff:      gocv.NewMat(),
	}
}

// Detect reports whether frame differs from the previous one by more
// than the threshold, and the percentage of changed pixels. The first
// frame only establishes the baseline.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	if frame.Channels() == 1 {
		frame.CopyTo(&m.gray)
	} else {
		gocv.CvtColor(*frame, &m.gray, gocv.ColorBGRToGray)
	}
	h := frame.Rows() * motionWidth / frame.Cols()
	if h < 1 {
		h = 1
	}
	gocv.Resize(m.gray, &m.small, image.Pt(motionWidth, h), 0, 0, gocv.InterpolationArea)
	gocv.GaussianBlur(m.small, &m.small, image.Pt(motionBlur, motionBlur), 0, 0, gocv.BorderDefault)

	if !m.hasBase {
		m.small.CopyTo(&m.base)
		m.hasBase = true
		return false, 0
	}

	gocv.AbsDiff(m.small, m.base, &m.diff)
	gocv.Threshold(m.diff, &m.diff, pixelDelta, 255, gocv.ThresholdBinary)
	changed := 100 * float64(gocv.CountNonZero(m.diff)) / float64(m.diff.Total())
	m.small.CopyTo(&m.base)

	return changed > m.threshold, changed
}

// Reset drops the baseline so the next frame starts a new comparison.
// The camera feed calls it whenever it starts.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasBase = false
}

// Close releases the scratch frames.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mat := range []*gocv.Mat{&m.gray, &m.small, &m.base, &m.diff} {
		mat.Close()
	}
	m.hasBase = false
}
