package enhance

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/ayusman/mudra/internal/timeutil"
	"gocv.io/x/gocv"
)

const (
	minFaceTarget = 0.25
	maxFaceTarget = 0.40
	maxZoom       = 3.0

	// detectWidth is the width faces are searched at.
	detectWidth = 320
)

// FaceDetector finds face bounding boxes in a grayscale image.
type FaceDetector interface {
	DetectFaces(gray gocv.Mat) []image.Rectangle
	Close() error
}

// HaarFaceDetector detects frontal faces with an OpenCV Haar cascade.
type HaarFaceDetector struct {
	classifier gocv.CascadeClassifier
}

// NewHaarFaceDetector loads the cascade XML at path.
func NewHaarFaceDetector(path string) (*HaarFaceDetector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load face cascade %q", path)
	}
	return &HaarFaceDetector{classifier: c}, nil
}

// DetectFaces runs the cascade with scale 1.1, 5 neighbours and a 30px
// minimum face.
func (d *HaarFaceDetector) DetectFaces(gray gocv.Mat) []image.Rectangle {
	return d.classifier.DetectMultiScaleWithParams(gray, 1.1, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
}

// Close releases the cascade.
func (d *HaarFaceDetector) Close() error {
	return d.classifier.Close()
}

// FaceConfig tunes the face focuser.
type FaceConfig struct {
	// TargetSize is the fraction of frame height the face should fill.
	TargetSize      float64       `json:"target_size" yaml:"target_size"`
	SmoothingFrames int           `json:"smoothing_frames" yaml:"smoothing_frames"`
	NoFaceTimeout   time.Duration `json:"no_face_timeout" yaml:"no_face_timeout"`
}

// DefaultFaceConfig returns the default face framing parameters.
func DefaultFaceConfig() FaceConfig {
	return FaceConfig{
		TargetSize:      0.35,
		SmoothingFrames: 8,
		NoFaceTimeout:   2 * time.Second,
	}
}

func (c FaceConfig) normalized() FaceConfig {
	c.TargetSize = clamp(c.TargetSize, minFaceTarget, maxFaceTarget)
	if c.SmoothingFrames < 5 {
		c.SmoothingFrames = 5
	}
	if c.SmoothingFrames > 10 {
		c.SmoothingFrames = 10
	}
	if c.NoFaceTimeout <= 0 {
		c.NoFaceTimeout = 2 * time.Second
	}
	return c
}

// FaceStats describes one face framing pass.
type FaceStats struct {
	FaceFound bool            `json:"face_found"`
	Faces     int             `json:"faces"`
	Zoom      float64         `json:"zoom"`
	Window    image.Rectangle `json:"window"`
}

// window is a floating-point crop rectangle.
type window struct {
	x, y, w, h float64
}

func (a window) blend(b window, alpha float64) window {
	return window{
		x: a.x + alpha*(b.x-a.x),
		y: a.y + alpha*(b.y-a.y),
		w: a.w + alpha*(b.w-a.w),
		h: a.h + alpha*(b.h-a.h),
	}
}

// FaceFocuser pans and zooms so the largest face stays centred at the
// target size. The crop window is blended across frames and drifts back
// to the full frame after NoFaceTimeout without a face.
type FaceFocuser struct {
	cfg      FaceConfig
	detector FaceDetector
	clock    timeutil.Clock

	frameW, frameH int
	current        window
	lastFace       image.Rectangle
	hasFace        bool
	lastSeen       time.Time
}

// NewFaceFocuser creates a focuser using d for detection.
func NewFaceFocuser(d FaceDetector, cfg FaceConfig, clock timeutil.Clock) *FaceFocuser {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FaceFocuser{cfg: cfg.normalized(), detector: d, clock: clock}
}

// SetTargetSize changes the target face fraction for subsequent frames.
func (f *FaceFocuser) SetTargetSize(size float64) {
	f.cfg.TargetSize = clamp(size, minFaceTarget, maxFaceTarget)
}

// Apply reframes frame around the largest detected face.
func (f *FaceFocuser) Apply(frame gocv.Mat) (gocv.Mat, FaceStats, error) {
	if err := checkFrame(frame); err != nil {
		return gocv.NewMat(), FaceStats{}, err
	}
	if f.detector == nil {
		return gocv.NewMat(), FaceStats{}, errors.New("face detector not configured")
	}

	w, h := frame.Cols(), frame.Rows()
	full := window{w: float64(w), h: float64(h)}
	if w != f.frameW || h != f.frameH {
		f.frameW, f.frameH = w, h
		f.current = full
		f.hasFace = false
	}

	faces := f.detect(frame)
	stats := FaceStats{Faces: len(faces)}
	now := f.clock.Now()

	target := f.current
	if face, ok := f.pickFace(faces); ok {
		f.lastFace, f.hasFace, f.lastSeen = face, true, now
		target = framingWindow(face, w, h, f.cfg.TargetSize)
		stats.FaceFound = true
	} else if !f.hasFace || now.Sub(f.lastSeen) >= f.cfg.NoFaceTimeout {
		f.hasFace = false
		target = full
	}

	f.current = f.current.blend(target, 1/float64(f.cfg.SmoothingFrames))
	crop := cropRect(f.current, w, h)
	stats.Window = crop
	stats.Zoom = float64(h) / float64(crop.Dy())

	if crop.Dx() == w && crop.Dy() == h {
		return frame.Clone(), stats, nil
	}

	region := frame.Region(crop)
	defer region.Close()
	out := gocv.NewMat()
	gocv.Resize(region, &out, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	return out, stats, nil
}

// Reset returns the focuser to full frame.
func (f *FaceFocuser) Reset() {
	f.frameW, f.frameH = 0, 0
	f.hasFace = false
}

// detect runs the face detector on a downscaled gray copy and maps the
// boxes back to full-resolution coordinates.
func (f *FaceFocuser) detect(frame gocv.Mat) []image.Rectangle {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	scale := 1.0
	if frame.Cols() > detectWidth {
		scale = float64(detectWidth) / float64(frame.Cols())
		small := gocv.NewMat()
		gocv.Resize(gray, &small, image.Pt(0, 0), scale, scale, gocv.InterpolationArea)
		gray.Close()
		gray = small
	}
	gocv.EqualizeHist(gray, &gray)

	found := f.detector.DetectFaces(gray)
	if scale == 1 {
		return found
	}
	faces := make([]image.Rectangle, 0, len(found))
	for _, r := range found {
		faces = append(faces, image.Rect(
			int(float64(r.Min.X)/scale), int(float64(r.Min.Y)/scale),
			int(float64(r.Max.X)/scale), int(float64(r.Max.Y)/scale),
		))
	}
	return faces
}

// pickFace returns the largest face. Equal areas go to the face nearest
// the previously tracked one.
func (f *FaceFocuser) pickFace(faces []image.Rectangle) (image.Rectangle, bool) {
	best := -1
	for i, r := range faces {
		if r.Empty() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		a, b := area(r), area(faces[best])
		if a > b || (a == b && f.hasFace && centreDist(r, f.lastFace) < centreDist(faces[best], f.lastFace)) {
			best = i
		}
	}
	if best < 0 {
		return image.Rectangle{}, false
	}
	return faces[best], true
}

// framingWindow returns the crop that makes face fill target of the
// frame height, centred on the face and clamped to the frame. The crop
// has the frame's aspect ratio.
func framingWindow(face image.Rectangle, w, h int, target float64) window {
	ratio := float64(face.Dy()) / float64(h)
	zoom := 1.0
	if ratio > 0 {
		zoom = clamp(target/ratio, 1, maxZoom)
	}
	cw, ch := float64(w)/zoom, float64(h)/zoom
	cx := float64(face.Min.X+face.Max.X) / 2
	cy := float64(face.Min.Y+face.Max.Y) / 2
	return window{
		x: clamp(cx-cw/2, 0, float64(w)-cw),
		y: clamp(cy-ch/2, 0, float64(h)-ch),
		w: cw,
		h: ch,
	}
}

// cropRect rounds win to whole pixels. The height is rounded first and
// the width derived from it, so the crop keeps the frame aspect ratio to
// within one pixel.
func cropRect(win window, w, h int) image.Rectangle {
	ch := int(math.Round(win.h))
	if ch < 1 {
		ch = 1
	}
	if ch > h {
		ch = h
	}
	cw := int(math.Round(float64(ch) * float64(w) / float64(h)))
	if cw > w {
		cw = w
	}
	x := int(math.Round(win.x))
	y := int(math.Round(win.y))
	x = max(0, min(x, w-cw))
	y = max(0, min(y, h-ch))
	return image.Rect(x, y, x+cw, y+ch)
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func centreDist(a, b image.Rectangle) float64 {
	ax, ay := float64(a.Min.X+a.Max.X)/2, float64(a.Min.Y+a.Max.Y)/2
	bx, by := float64(b.Min.X+b.Max.X)/2, float64(b.Min.Y+b.Max.Y)/2
	return math.Hypot(ax-bx, ay-by)
}
