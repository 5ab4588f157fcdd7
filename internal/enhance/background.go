package enhance

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

const (
	maxBlurIntensity = 10
	intensityWindow  = 5
	featherKernel    = 5
)

// Segmenter finds people in a frame. It returns one 8-bit mask per
// person, the size of the frame, with foreground pixels above 127. The
// caller owns the returned Mats.
type Segmenter interface {
	Segment(frame *gocv.Mat) ([]gocv.Mat, error)
}

// BackgroundStats describes one background pass.
type BackgroundStats struct {
	People    int     `json:"people"`
	Intensity float64 `json:"intensity"`
	Kernel    int     `json:"kernel"`
}

// BackgroundProcessor blurs everything except segmented people. The
// requested intensity is averaged over the last few frames so changes
// ramp in rather than jump.
type BackgroundProcessor struct {
	segmenter Segmenter
	recent    []float64
}

// NewBackgroundProcessor creates a processor using s for segmentation.
func NewBackgroundProcessor(s Segmenter) *BackgroundProcessor {
	return &BackgroundProcessor{segmenter: s}
}

// KernelSize maps a 0-10 intensity to an odd Gaussian kernel size.
// Intensity 0 maps to 0, meaning no blur.
func KernelSize(intensity float64) int {
	level := int(math.Round(clamp(intensity, 0, maxBlurIntensity)))
	if level == 0 {
		return 0
	}
	return level*4 + 1
}

// Apply blurs the background of frame at the given intensity, feathering
// the mask edge when edgeSmoothing is set.
func (b *BackgroundProcessor) Apply(frame gocv.Mat, intensity int, edgeSmoothing bool) (gocv.Mat, BackgroundStats, error) {
	if err := checkFrame(frame); err != nil {
		return gocv.NewMat(), BackgroundStats{}, err
	}

	smoothed := b.smooth(float64(intensity))
	stats := BackgroundStats{Intensity: smoothed, Kernel: KernelSize(smoothed)}
	if stats.Kernel == 0 {
		return frame.Clone(), stats, nil
	}
	if b.segmenter == nil {
		return gocv.NewMat(), stats, errors.New("segmenter not configured")
	}

	masks, err := b.segmenter.Segment(&frame)
	if err != nil {
		return gocv.NewMat(), stats, fmt.Errorf("segment: %w", err)
	}
	stats.People = len(masks)
	mask := UnionMasks(masks, frame.Rows(), frame.Cols())
	for i := range masks {
		masks[i].Close()
	}
	defer mask.Close()

	out, err := blendBackground(frame, mask, stats.Kernel, edgeSmoothing)
	if err != nil {
		return gocv.NewMat(), stats, err
	}
	return out, stats, nil
}

// Reset forgets intensity history.
func (b *BackgroundProcessor) Reset() {
	b.recent = b.recent[:0]
}

func (b *BackgroundProcessor) smooth(intensity float64) float64 {
	b.recent = append(b.recent, clamp(intensity, 0, maxBlurIntensity))
	if len(b.recent) > intensityWindow {
		b.recent = b.recent[len(b.recent)-intensityWindow:]
	}
	sum := 0.0
	for _, v := range b.recent {
		sum += v
	}
	return sum / float64(len(b.recent))
}

// UnionMasks combines per-person masks into one binary 0/255 mask of the
// given size. No masks yields an all-background mask.
func UnionMasks(masks []gocv.Mat, rows, cols int) gocv.Mat {
	union := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	union.SetTo(gocv.NewScalar(0, 0, 0, 0))

	bin := gocv.NewMat()
	defer bin.Close()
	for _, m := range masks {
		if m.Empty() || m.Rows() != rows || m.Cols() != cols {
			continue
		}
		gocv.Threshold(m, &bin, 127, 255, gocv.ThresholdBinary)
		gocv.BitwiseOr(union, bin, &union)
	}
	return union
}

// blendBackground composites frame over a blurred copy of itself using
// mask as alpha.
func blendBackground(frame, mask gocv.Mat, kernel int, feather bool) (gocv.Mat, error) {
	alpha := gocv.NewMat()
	defer alpha.Close()
	mask.ConvertTo(&alpha, gocv.MatTypeCV32F)
	alpha.DivideFloat(255)
	if feather {
		gocv.GaussianBlur(alpha, &alpha, image.Pt(featherKernel, featherKernel), 0, 0, gocv.BorderDefault)
	}

	alpha3 := gocv.NewMat()
	defer alpha3.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &alpha3)

	ones := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), frame.Rows(), frame.Cols(), gocv.MatTypeCV32FC3)
	defer ones.Close()
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.Subtract(ones, alpha3, &inv)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(frame, &blurred, image.Pt(kernel, kernel), 0, 0, gocv.BorderDefault)

	frameF := gocv.NewMat()
	defer frameF.Close()
	blurredF := gocv.NewMat()
	defer blurredF.Close()
	frame.ConvertTo(&frameF, gocv.MatTypeCV32FC3)
	blurred.ConvertTo(&blurredF, gocv.MatTypeCV32FC3)

	fg := gocv.NewMat()
	defer fg.Close()
	bg := gocv.NewMat()
	defer bg.Close()
	gocv.Multiply(frameF, alpha3, &fg)
	gocv.Multiply(blurredF, inv, &bg)

	sum := gocv.NewMat()
	defer sum.Close()
	gocv.Add(fg, bg, &sum)

	out := gocv.NewMat()
	sum.ConvertTo(&out, gocv.MatTypeCV8UC3)
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.New("background blend produced empty frame")
	}
	return out, nil
}
