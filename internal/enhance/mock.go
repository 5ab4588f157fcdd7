package enhance

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// StaticSegmenter returns copies of fixed masks. It is used in tests and
// when no segmentation worker is available but a fixed matte is wanted.
type StaticSegmenter struct {
	mu    sync.Mutex
	masks []gocv.Mat
	err   error
}

// NewStaticSegmenter takes ownership of masks.
func NewStaticSegmenter(masks ...gocv.Mat) *StaticSegmenter {
	return &StaticSegmenter{masks: masks}
}

// SetError makes Segment fail with err.
func (s *StaticSegmenter) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Segment returns clones of the configured masks.
func (s *StaticSegmenter) Segment(frame *gocv.Mat) ([]gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]gocv.Mat, 0, len(s.masks))
	for _, m := range s.masks {
		out = append(out, m.Clone())
	}
	return out, nil
}

// Close releases the masks.
func (s *StaticSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.masks {
		s.masks[i].Close()
	}
	s.masks = nil
	return nil
}

// StaticFaceDetector reports fixed face boxes in detection coordinates.
type StaticFaceDetector struct {
	mu    sync.Mutex
	faces []image.Rectangle
}

// SetFaces replaces the reported faces.
func (d *StaticFaceDetector) SetFaces(faces ...image.Rectangle) {
	d.mu.Lock()
	d.faces = faces
	d.mu.Unlock()
}

// DetectFaces returns the configured faces.
func (d *StaticFaceDetector) DetectFaces(gocv.Mat) []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Rectangle(nil), d.faces...)
}

// Close is a no-op.
func (d *StaticFaceDetector) Close() error { return nil }
