// Package enhance implements the optional visual enhancement stages:
// lighting correction, face framing and background blur. Every stage
// returns a new Mat owned by the caller and never modifies its input.
package enhance

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// ErrMalformedFrame is returned for empty frames or frames that are not
// 8-bit, 3-channel BGR.
var ErrMalformedFrame = errors.New("malformed frame")

// Exposure thresholds on mean gray level (0-255).
const (
	UnderexposedBelow = 80.0
	OverexposedAbove  = 200.0

	minGamma = 0.5
	maxGamma = 2.0

	// gammaEpsilon is the distance from 1.0 under which no correction
	// is applied and the input is returned byte-identical.
	gammaEpsilon = 0.01

	// spreadFloor is the minimum ratio of output to input luminance
	// standard deviation before a gentler correction is used.
	spreadFloor = 0.85
)

// Exposure classifies a frame's mean brightness.
type Exposure string

const (
	Underexposed Exposure = "underexposed"
	Normal       Exposure = "normal"
	Overexposed  Exposure = "overexposed"
)

// LightingConfig tunes the lighting adjuster.
type LightingConfig struct {
	TargetBrightness float64 `json:"target_brightness" yaml:"target_brightness"`
	Strength         float64 `json:"strength" yaml:"strength"`
	SmoothingFrames  int     `json:"smoothing_frames" yaml:"smoothing_frames"`
}

// DefaultLightingConfig returns the default lighting parameters.
func DefaultLightingConfig() LightingConfig {
	return LightingConfig{
		TargetBrightness: 128,
		Strength:         0.5,
		SmoothingFrames:  4,
	}
}

func (c LightingConfig) normalized() LightingConfig {
	if c.TargetBrightness < 1 || c.TargetBrightness > 254 {
		c.TargetBrightness = 128
	}
	c.Strength = clamp(c.Strength, 0, 1)
	if c.SmoothingFrames < 3 {
		c.SmoothingFrames = 3
	}
	if c.SmoothingFrames > 5 {
		c.SmoothingFrames = 5
	}
	return c
}

// LightingStats describes one lighting pass.
type LightingStats struct {
	Brightness float64  `json:"brightness"`
	Exposure   Exposure `json:"exposure"`
	Gamma      float64  `json:"gamma"`
	Applied    bool     `json:"applied"`
}

// AdjustLighting corrects the exposure of frame. It is a pure function of
// its inputs: prevGamma is the gamma applied to the previous frame and
// the returned gamma must be passed back in for the next one. Gamma
// above 1 brightens. The result is always a new Mat; on error it is
// empty and prevGamma is returned unchanged.
func AdjustLighting(frame gocv.Mat, prevGamma float64, cfg LightingConfig) (gocv.Mat, float64, LightingStats, error) {
	if err := checkFrame(frame); err != nil {
		return gocv.NewMat(), prevGamma, LightingStats{}, err
	}
	cfg = cfg.normalized()
	if prevGamma <= 0 {
		prevGamma = 1
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	brightness := histogramMean(gray)
	stats := LightingStats{Brightness: brightness, Exposure: exposureOf(brightness)}

	target := 1.0
	if stats.Exposure != Normal {
		target = 1 + (gammaFor(brightness, cfg.TargetBrightness)-1)*cfg.Strength
	}

	alpha := 1 / float64(cfg.SmoothingFrames)
	gamma := prevGamma + alpha*(target-prevGamma)
	if math.Abs(gamma-1) <= gammaEpsilon {
		gamma = 1
	}
	stats.Gamma = gamma

	if gamma == 1 {
		return frame.Clone(), gamma, stats, nil
	}

	out, err := applyGamma(frame, gray, gamma)
	if err != nil {
		return gocv.NewMat(), prevGamma, LightingStats{}, err
	}

	if spreadRatio(gray, out) < spreadFloor {
		out.Close()
		out, err = applyGamma(frame, gray, 1+(gamma-1)*0.5)
		if err != nil {
			return gocv.NewMat(), prevGamma, LightingStats{}, err
		}
	}

	stats.Applied = true
	return out, gamma, stats, nil
}

// LightingAdjuster keeps the smoothed gamma between frames for one
// session.
type LightingAdjuster struct {
	cfg   LightingConfig
	gamma float64
}

// NewLightingAdjuster creates an adjuster starting at neutral gamma.
func NewLightingAdjuster(cfg LightingConfig) *LightingAdjuster {
	return &LightingAdjuster{cfg: cfg, gamma: 1}
}

// SetTarget changes the target brightness for subsequent frames.
func (l *LightingAdjuster) SetTarget(brightness float64) {
	l.cfg.TargetBrightness = brightness
}

// Gamma returns the gamma applied to the last frame.
func (l *LightingAdjuster) Gamma() float64 { return l.gamma }

// Apply corrects frame and advances the smoothed gamma.
func (l *LightingAdjuster) Apply(frame gocv.Mat) (gocv.Mat, LightingStats, error) {
	out, gamma, stats, err := AdjustLighting(frame, l.gamma, l.cfg)
	if err != nil {
		return out, stats, err
	}
	l.gamma = gamma
	return out, stats, nil
}

// Reset returns the adjuster to neutral gamma.
func (l *LightingAdjuster) Reset() { l.gamma = 1 }

func checkFrame(frame gocv.Mat) error {
	if frame.Empty() {
		return fmt.Errorf("%w: empty", ErrMalformedFrame)
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: type %v", ErrMalformedFrame, frame.Type())
	}
	return nil
}

func exposureOf(brightness float64) Exposure {
	switch {
	case brightness < UnderexposedBelow:
		return Underexposed
	case brightness > OverexposedAbove:
		return Overexposed
	}
	return Normal
}

// gammaFor solves target = 255*(cur/255)^(1/gamma) for gamma.
func gammaFor(current, target float64) float64 {
	current = math.Max(current, 1)
	target = math.Max(target, 1)
	g := math.Log(current/255) / math.Log(target/255)
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return 1
	}
	return clamp(g, minGamma, maxGamma)
}

func histogramMean(gray gocv.Mat) float64 {
	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)

	var sum, total float64
	for i := 0; i < 256; i++ {
		n := float64(hist.GetFloatAt(i, 0))
		sum += float64(i) * n
		total += n
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

func gammaLUT(gamma float64) gocv.Mat {
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	inv := 1 / gamma
	for i := 0; i < 256; i++ {
		v := math.Pow(float64(i)/255, inv) * 255
		lut.SetUCharAt(0, i, uint8(math.Round(clamp(v, 0, 255))))
	}
	return lut
}

// applyGamma maps luminance through the gamma curve and scales every
// channel of a pixel by the same gain, so channel ratios survive.
func applyGamma(frame, gray gocv.Mat, gamma float64) (gocv.Mat, error) {
	lut := gammaLUT(gamma)
	defer lut.Close()

	mapped := gocv.NewMat()
	defer mapped.Close()
	gocv.LUT(gray, lut, &mapped)

	grayF := gocv.NewMat()
	defer grayF.Close()
	mappedF := gocv.NewMat()
	defer mappedF.Close()
	gray.ConvertTo(&grayF, gocv.MatTypeCV32F)
	mapped.ConvertTo(&mappedF, gocv.MatTypeCV32F)
	grayF.AddFloat(1)
	mappedF.AddFloat(1)

	gain := gocv.NewMat()
	defer gain.Close()
	gocv.Divide(mappedF, grayF, &gain)

	gain3 := gocv.NewMat()
	defer gain3.Close()
	gocv.Merge([]gocv.Mat{gain, gain, gain}, &gain3)

	frameF := gocv.NewMat()
	defer frameF.Close()
	frame.ConvertTo(&frameF, gocv.MatTypeCV32FC3)

	outF := gocv.NewMat()
	defer outF.Close()
	gocv.Multiply(frameF, gain3, &outF)

	out := gocv.NewMat()
	outF.ConvertTo(&out, gocv.MatTypeCV8UC3)
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.New("gamma correction produced empty frame")
	}
	return out, nil
}

// spreadRatio returns std(gray(out)) / std(grayIn).
func spreadRatio(grayIn, out gocv.Mat) float64 {
	grayOut := gocv.NewMat()
	defer grayOut.Close()
	gocv.CvtColor(out, &grayOut, gocv.ColorBGRToGray)

	in := stdDev(grayIn)
	if in < 1e-6 {
		return 1
	}
	return stdDev(grayOut) / in
}

func stdDev(m gocv.Mat) float64 {
	mean := gocv.NewMat()
	defer mean.Close()
	std := gocv.NewMat()
	defer std.Close()
	gocv.MeanStdDev(m, &mean, &std)
	return std.GetDoubleAt(0, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
