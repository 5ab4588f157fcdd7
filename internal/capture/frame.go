package capture

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// Frame is one captured image. It owns its pixel buffer and is never
// mutated after creation; pipeline stages produce new Mats instead.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Image     gocv.Mat
}

// NewFrame wraps img, taking ownership of it.
func NewFrame(seq uint64, ts time.Time, img gocv.Mat) *Frame {
	return &Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     img.Cols(),
		Height:    img.Rows(),
		Image:     img,
	}
}

// DecodeFrame decodes JPEG or PNG bytes into a BGR frame.
func DecodeFrame(seq uint64, ts time.Time, data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if img.Empty() {
		img.Close()
		return nil, errors.New("decode frame: not an image")
	}
	return NewFrame(seq, ts, img), nil
}

// Close releases the pixel buffer. It is safe to call on a nil Frame.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Image.Close()
}

// Sequencer hands out increasing frame sequence numbers.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number, starting at 1.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1)
}

// SolidFrame returns a BGR frame filled with a single colour.
func SolidFrame(rows, cols int, b, g, r uint8) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(b), float64(g), float64(r), 0), rows, cols, gocv.MatTypeCV8UC3)
}

// GradientFrame returns a gray BGR frame whose level ramps linearly from
// lo at the left edge to hi at the right edge.
func GradientFrame(rows, cols int, lo, hi uint8) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC3)
	for x := 0; x < cols; x++ {
		v := float64(lo)
		if cols > 1 {
			v += (float64(hi) - float64(lo)) * float64(x) / float64(cols-1)
		}
		col := m.Region(image.Rect(x, 0, x+1, rows))
		col.SetTo(gocv.NewScalar(v, v, v, 0))
		col.Close()
	}
	return m
}
